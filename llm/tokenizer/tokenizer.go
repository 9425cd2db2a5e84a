package tokenizer

import (
	"sync"

	"go.uber.org/zap"
)

// Tokenizer 是统一的 Token 计数接口
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// Name 返回分词器名称
	Name() string
}

// MessageOverhead 每条对话消息的固定开销（角色标记、分隔符）
const MessageOverhead = 4

// CountMessage 返回单条消息内容加固定开销的 token 数
func CountMessage(t Tokenizer, content string) (int, error) {
	n, err := t.CountTokens(content)
	if err != nil {
		return 0, err
	}
	return n + MessageOverhead, nil
}

// Fallback 优先使用 primary，primary 出错后永久切换到 secondary
type Fallback struct {
	primary   Tokenizer
	secondary Tokenizer
	logger    *zap.Logger

	mu       sync.RWMutex
	degraded bool
}

// NewFallback 创建降级分词器
func NewFallback(primary, secondary Tokenizer, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// New 为模型创建 tiktoken 分词器，不可用时降级为估算器
func New(model string, logger *zap.Logger) Tokenizer {
	return NewFallback(NewTiktokenTokenizer(model), NewEstimatorTokenizer(), logger)
}

func (f *Fallback) CountTokens(text string) (int, error) {
	f.mu.RLock()
	degraded := f.degraded
	f.mu.RUnlock()

	if !degraded {
		n, err := f.primary.CountTokens(text)
		if err == nil {
			return n, nil
		}
		f.mu.Lock()
		if !f.degraded {
			f.degraded = true
			f.logger.Warn("tokenizer degraded to estimator",
				zap.String("primary", f.primary.Name()),
				zap.Error(err))
		}
		f.mu.Unlock()
	}
	return f.secondary.CountTokens(text)
}

func (f *Fallback) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.degraded {
		return f.secondary.Name()
	}
	return f.primary.Name()
}
