package brain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/internal/telemetry"
	"github.com/BaSui01/companion/types"
)

// Option Brain 可选项
type Option func(*Brain)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(b *Brain) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(b *Brain) { b.metrics = collector }
}

// Brain 引擎注册表与调度器
type Brain struct {
	mu      sync.RWMutex
	engines []Engine

	timeout time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New 创建 Brain
func New(cfg config.BrainConfig, opts ...Option) *Brain {
	timeout := cfg.EngineTimeout
	if timeout <= 0 {
		timeout = config.DefaultBrainConfig().EngineTimeout
	}
	b := &Brain{
		timeout: timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "brain"))
	return b
}

// Register 注册引擎，名称重复时返回 DUPLICATE_ENGINE
func (b *Brain) Register(e Engine) error {
	if e == nil {
		return types.NewError(types.ErrInvalidRequest, "engine cannot be nil")
	}
	name := e.Name()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.engines {
		if existing.Name() == name {
			return types.NewError(types.ErrDuplicateEngine, fmt.Sprintf("engine %q already registered", name))
		}
	}
	b.engines = append(b.engines, e)

	b.logger.Info("engine registered", zap.String("engine", name))
	return nil
}

// Unregister 注销引擎
func (b *Brain) Unregister(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.engines {
		if e.Name() == name {
			b.engines = append(b.engines[:i:i], b.engines[i+1:]...)
			b.logger.Info("engine unregistered", zap.String("engine", name))
			return nil
		}
	}
	return types.NewError(types.ErrEngineNotFound, fmt.Sprintf("engine %q not registered", name))
}

// Engines 返回已注册引擎名，按注册顺序
func (b *Brain) Engines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.engines))
	for i, e := range b.engines {
		names[i] = e.Name()
	}
	return names
}

// =============================================================================
// 🚀 调度
// =============================================================================

// Process 并发运行全部引擎并返回消解后的意图列表。
// 单个引擎的失败与超时不会使 Process 失败。
func (b *Brain) Process(ctx context.Context, ev Event) ([]Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "brain.Process",
		attribute.String("event_id", ev.ID),
		attribute.String("agent_id", ev.AgentID))
	defer telemetry.EndSpan(span, nil)

	b.mu.RLock()
	engines := append([]Engine(nil), b.engines...)
	b.mu.RUnlock()

	results := make([][]Intent, len(engines))
	var g errgroup.Group
	for i, e := range engines {
		g.Go(func() error {
			results[i] = b.runEngine(ctx, e, ev)
			return nil
		})
	}
	_ = g.Wait()

	var collected []Intent
	for _, r := range results {
		collected = append(collected, r...)
	}

	resolved, suppressed := resolve(collected)
	if suppressed > 0 {
		b.metrics.RecordRepliesSuppressed(suppressed)
		b.logger.Info("replies suppressed by punitive action",
			zap.String("event_id", ev.ID),
			zap.Int("suppressed", suppressed))
	}
	for _, in := range resolved {
		b.metrics.RecordIntent(string(in.Base().Type))
	}
	span.SetAttributes(attribute.Int("brain.intents", len(resolved)))
	return resolved, nil
}

type engineResult struct {
	intents []Intent
	err     error
}

// runEngine 在独立超时内运行引擎；超时后放弃等待，goroutine 返回前计入 abandoned 指标
func (b *Brain) runEngine(ctx context.Context, e Engine, ev Event) []Intent {
	name := e.Name()
	start := time.Now()

	ectx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan engineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- engineResult{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		intents, err := e.Decide(ectx, ev)
		done <- engineResult{intents: intents, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			b.metrics.RecordEngineRun(name, "error", time.Since(start))
			b.logger.Warn("engine failed",
				zap.String("engine", name),
				zap.String("event_id", ev.ID),
				zap.Error(res.err))
			return nil
		}
		b.metrics.RecordEngineRun(name, "ok", time.Since(start))
		intents, dropped := normalizeIntents(res.intents)
		if dropped > 0 {
			for i := 0; i < dropped; i++ {
				b.metrics.RecordInvalidIntent(name)
			}
			b.logger.Warn("engine returned invalid intents",
				zap.String("engine", name),
				zap.String("event_id", ev.ID),
				zap.Int("dropped", dropped))
		}
		return intents

	case <-ectx.Done():
		b.metrics.RecordEngineRun(name, "timeout", time.Since(start))
		b.metrics.EngineAbandoned()
		go func() {
			<-done
			b.metrics.AbandonedEngineFinished()
		}()
		err := types.NewError(types.ErrEngineTimeout, fmt.Sprintf("engine %q did not finish within %s", name, b.timeout)).
			WithCause(ectx.Err())
		b.logger.Warn("engine timed out",
			zap.String("engine", name),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return nil
	}
}

// =============================================================================
// ⚖️ 冲突消解
// =============================================================================

// Resolve 对意图做冲突消解并按优先级降序稳定排序。nil 意图被丢弃，指针变体按值处理。
func Resolve(intents []Intent) []Intent {
	normalized, _ := normalizeIntents(intents)
	out, _ := resolve(normalized)
	return out
}

func resolve(intents []Intent) ([]Intent, int) {
	punitive := false
	for _, in := range intents {
		if isPunitive(in.Base().Type) {
			punitive = true
			break
		}
	}

	var (
		out        []Intent
		suppressed int
	)
	if punitive {
		out = make([]Intent, 0, len(intents))
		for _, in := range intents {
			base := in.Base()
			// 审核引擎自己的回复（如处罚说明）保留，其余回复被压制
			if base.Type == IntentReply && base.Source != SourceModeration {
				suppressed++
				continue
			}
			if keepUnderPunitive(base) {
				out = append(out, in)
			}
		}
		out = dedupeReplies(out)
	} else {
		out = dedupeReplies(intents)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Base().Priority > out[j].Base().Priority
	})
	return out, suppressed
}

func keepUnderPunitive(base IntentBase) bool {
	switch {
	case base.Source == SourceModeration:
		return true
	case base.Type == IntentLogMetric || base.Type == IntentLogModeration:
		return true
	case base.Source == SourceEngagement && base.Type != IntentReply:
		return true
	}
	return false
}

// dedupeReplies 同一频道只保留优先级最高的 reply，相同时取最早
func dedupeReplies(intents []Intent) []Intent {
	best := make(map[string]int)
	for i, in := range intents {
		r, ok := in.(ReplyIntent)
		if !ok {
			continue
		}
		cur, seen := best[r.ChannelID]
		if !seen || r.Priority > intents[cur].Base().Priority {
			best[r.ChannelID] = i
		}
	}

	out := make([]Intent, 0, len(intents))
	for i, in := range intents {
		if r, ok := in.(ReplyIntent); ok && best[r.ChannelID] != i {
			continue
		}
		out = append(out, in)
	}
	return out
}
