package moderation

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/llm"
	"go.uber.org/zap"
)

// 拒绝原因
const (
	ReasonBlocklist   = "Contains blocked content"
	ReasonClassifier  = "Flagged by moderation service"
	ReasonUnavailable = "Moderation service unavailable"
)

// Classifier 外部安全分类器，由 llm.Client 实现
type Classifier interface {
	ClassifySafety(ctx context.Context, text string) (*llm.SafetyVerdict, error)
}

// Result 审核结果
type Result struct {
	Safe   bool
	Reason string
	// Categories 分类器命中的类别
	Categories []string
}

// Moderator 内容审核器，屏蔽词表并发安全
type Moderator struct {
	classifier Classifier
	failOpen   bool
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu        sync.RWMutex
	blocklist map[string]struct{}
}

// NewModerator 创建审核器；classifier 为 nil 时只做屏蔽词扫描
func NewModerator(cfg config.ModerationConfig, classifier Classifier, collector *metrics.Collector, logger *zap.Logger) *Moderator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Moderator{
		classifier: classifier,
		failOpen:   cfg.FailOpen,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "moderation")),
		blocklist:  make(map[string]struct{}),
	}
	m.AddToBlocklist(cfg.Blocklist...)
	return m
}

// Moderate 审核文本；空文本视为安全
func (m *Moderator) Moderate(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Safe: true}
	}

	if m.containsBlocked(text) {
		m.metrics.RecordModerationBlock("blocklist")
		return Result{Safe: false, Reason: ReasonBlocklist}
	}

	if m.classifier == nil {
		return Result{Safe: true}
	}

	verdict, err := m.classifier.ClassifySafety(ctx, text)
	if err != nil {
		if m.failOpen {
			m.logger.Warn("moderation classifier failed, allowing content", zap.Error(err))
			return Result{Safe: true}
		}
		m.logger.Warn("moderation classifier failed, rejecting content", zap.Error(err))
		m.metrics.RecordModerationBlock("classifier_error")
		return Result{Safe: false, Reason: ReasonUnavailable}
	}

	if verdict != nil && verdict.Flagged {
		m.metrics.RecordModerationBlock("classifier")
		return Result{Safe: false, Reason: ReasonClassifier, Categories: verdict.Categories}
	}
	return Result{Safe: true}
}

func (m *Moderator) containsBlocked(text string) bool {
	lower := strings.ToLower(text)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for term := range m.blocklist {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// AddToBlocklist 添加屏蔽词（忽略大小写与首尾空白，空串忽略）
func (m *Moderator) AddToBlocklist(terms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, term := range terms {
		if t := normalize(term); t != "" {
			m.blocklist[t] = struct{}{}
		}
	}
}

// RemoveFromBlocklist 移除屏蔽词
func (m *Moderator) RemoveFromBlocklist(terms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, term := range terms {
		delete(m.blocklist, normalize(term))
	}
}

// Blocklist 返回排序后的屏蔽词快照
func (m *Moderator) Blocklist() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blocklist))
	for term := range m.blocklist {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

func normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
