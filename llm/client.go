package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/internal/telemetry"
	"github.com/BaSui01/companion/llm/retry"
	"github.com/BaSui01/companion/types"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🤖 LLM Client
// =============================================================================

// ClientConfig Client 配置
type ClientConfig struct {
	Model           string
	ExtractionModel string
	Temperature     float32
	MaxTokens       int
	// Timeout 单次尝试的超时，0 表示只受调用方 ctx 约束
	Timeout time.Duration
	Retry   retry.RetryPolicy
}

// ClientConfigFrom 从全局配置构建 ClientConfig
func ClientConfigFrom(cfg config.LLMConfig) ClientConfig {
	cc := ClientConfig{
		Model:           cfg.Model,
		ExtractionModel: cfg.ExtractionModel,
		Temperature:     float32(cfg.Temperature),
		MaxTokens:       cfg.MaxTokens,
		Timeout:         cfg.Timeout,
		Retry: retry.RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
	if cc.ExtractionModel == "" {
		cc.ExtractionModel = cc.Model
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		cc.Retry.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return cc
}

// Option Client 可选项
type Option func(*Client)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) { c.metrics = collector }
}

// Client 组合 Provider、Embedder 与 SafetyClassifier 的语言模型客户端
type Client struct {
	provider   Provider
	embedder   Embedder
	classifier SafetyClassifier
	cfg        ClientConfig
	retryer    retry.Retryer
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewClient 创建 Client
func NewClient(provider Provider, embedder Embedder, classifier SafetyClassifier, cfg ClientConfig, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		embedder:   embedder,
		classifier: classifier,
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "llm_client"))

	policy := cfg.Retry
	policy.IsRetryable = IsRetryable
	c.retryer = retry.NewBackoffRetryer(&policy, c.logger)
	return c
}

// Complete 发起一次对话补全
func (c *Client) Complete(ctx context.Context, messages []types.Message) (*ChatResponse, error) {
	return c.complete(ctx, "complete", &ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		User:        userFromContext(ctx),
	})
}

func (c *Client) complete(ctx context.Context, operation string, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm."+operation,
		attribute.String("llm.provider", c.provider.Name()),
		attribute.String("llm.model", req.Model),
	)
	start := time.Now()

	resp, err := retry.DoWithResultTyped(c.retryer, ctx, func(ctx context.Context) (*ChatResponse, error) {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()
		return c.provider.Completion(attemptCtx, req)
	})
	if err != nil {
		c.metrics.RecordLLMRequest(operation, "error", time.Since(start), 0, 0)
		telemetry.EndSpan(span, err)
		return nil, fmt.Errorf("llm %s: %w", operation, err)
	}

	c.metrics.RecordLLMRequest(operation, "ok", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	telemetry.EndSpan(span, nil)
	return resp, nil
}

// CompleteStream 发起流式补全；只重试连接建立，通道建立后的错误通过 StreamChunk.Err 传递
func (c *Client) CompleteStream(ctx context.Context, messages []types.Message) (<-chan StreamChunk, error) {
	req := &ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		User:        userFromContext(ctx),
	}
	start := time.Now()

	upstream, err := retry.DoWithResultTyped(c.retryer, ctx, func(ctx context.Context) (<-chan StreamChunk, error) {
		return c.provider.Stream(ctx, req)
	})
	if err != nil {
		c.metrics.RecordLLMRequest("stream", "error", time.Since(start), 0, 0)
		return nil, fmt.Errorf("llm stream: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		status := "ok"
		var usage Usage
		for chunk := range upstream {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				c.metrics.RecordLLMRequest("stream", "cancelled", time.Since(start), usage.PromptTokens, usage.CompletionTokens)
				// 排空上游，避免 Provider 的发送方阻塞
				for range upstream {
				}
				return
			}
		}
		c.metrics.RecordLLMRequest("stream", status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
	}()
	return out, nil
}

// Embed 生成单条文本的向量
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成向量，结果与输入顺序一致
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	vectors, err := retry.DoWithResultTyped(c.retryer, ctx, func(ctx context.Context) ([][]float32, error) {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()
		return c.embedder.Embed(attemptCtx, texts)
	})
	if err == nil && len(vectors) != len(texts) {
		err = &Error{
			Code:    ErrEmptyResponse,
			Message: fmt.Sprintf("embedder returned %d vectors for %d inputs", len(vectors), len(texts)),
		}
	}
	if err != nil {
		c.metrics.RecordLLMRequest("embed", "error", time.Since(start), 0, 0)
		return nil, fmt.Errorf("llm embed: %w", err)
	}

	c.metrics.RecordLLMRequest("embed", "ok", time.Since(start), 0, 0)
	return vectors, nil
}

// ClassifySafety 调用外部安全分类器
func (c *Client) ClassifySafety(ctx context.Context, text string) (*SafetyVerdict, error) {
	start := time.Now()

	verdict, err := retry.DoWithResultTyped(c.retryer, ctx, func(ctx context.Context) (*SafetyVerdict, error) {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()
		return c.classifier.Classify(attemptCtx, text)
	})
	if err != nil {
		c.metrics.RecordLLMRequest("classify", "error", time.Since(start), 0, 0)
		return nil, fmt.Errorf("llm classify: %w", err)
	}

	c.metrics.RecordLLMRequest("classify", "ok", time.Since(start), 0, 0)
	return verdict, nil
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func userFromContext(ctx context.Context) string {
	userID, _ := types.UserID(ctx)
	return userID
}
