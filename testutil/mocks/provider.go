// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、流式输出、按调用次数失败与错误注入场景。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/companion/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	response     string
	streamChunks []string
	streamErr    error
	err          error

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls          []*llm.ChatRequest
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// 行为控制
	delay     time.Duration
	failFirst int
	callCount int
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithStreamError 在流式块之后追加一个错误 chunk
func (m *MockProvider) WithStreamError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst 前 n 次调用返回可重试的上游错误
func (m *MockProvider) WithFailFirst(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// --- 调用记录 ---

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := m.begin(ctx, req); err != nil {
		return nil, err
	}

	m.mu.RLock()
	fn := m.completionFunc
	resp := &llm.ChatResponse{
		ID:           "mock-response-id",
		Model:        req.Model,
		Content:      m.response,
		FinishReason: "stop",
		Usage: llm.Usage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
	}
	m.mu.RUnlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, nil
}

// Stream 流式生成响应
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if err := m.begin(ctx, req); err != nil {
		return nil, err
	}

	m.mu.RLock()
	chunks := append([]string(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	streamErr := m.streamErr
	usage := &llm.Usage{
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      m.promptTokens + m.completionTokens,
	}
	m.mu.RUnlock()

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, delta := range chunks {
			chunk := llm.StreamChunk{Delta: delta}
			if i == len(chunks)-1 && streamErr == nil {
				chunk.FinishReason = "stop"
				chunk.Usage = usage
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
		if streamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- llm.StreamChunk{Err: streamErr}:
			}
		}
	}()
	return ch, nil
}

func (m *MockProvider) begin(ctx context.Context, req *llm.ChatRequest) error {
	m.mu.Lock()
	m.callCount++
	m.calls = append(m.calls, req)
	n := m.callCount
	delay := m.delay
	failFirst := m.failFirst
	err := m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if n <= failFirst {
		return &llm.Error{Code: llm.ErrUpstreamError, Message: "mock upstream failure", Retryable: true, Provider: "mock"}
	}
	return err
}

// --- MockClassifier ---

// MockClassifier 是 llm.SafetyClassifier 的模拟实现
type MockClassifier struct {
	mu      sync.Mutex
	flagged map[string]bool
	err     error
	calls   int
}

// NewMockClassifier 创建默认全部安全的分类器
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{flagged: make(map[string]bool)}
}

// Flag 将 text 标记为不安全
func (m *MockClassifier) Flag(text string) *MockClassifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged[text] = true
	return m
}

// WithError 设置返回错误
func (m *MockClassifier) WithError(err error) *MockClassifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls 返回调用次数
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify 实现 llm.SafetyClassifier
func (m *MockClassifier) Classify(ctx context.Context, text string) (*llm.SafetyVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.flagged[text] {
		return &llm.SafetyVerdict{Flagged: true, Categories: []string{"harassment"}}, nil
	}
	return &llm.SafetyVerdict{}, nil
}

// ErrMockUnavailable 模拟不可重试的服务不可用
var ErrMockUnavailable = errors.New("mock service unavailable")
