// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 轮次指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 限流与审核
	rateLimitDecisions *prometheus.CounterVec
	moderationBlocks   *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 引擎指标
	engineRunsTotal   *prometheus.CounterVec
	engineDuration    *prometheus.HistogramVec
	enginesAbandoned  prometheus.Gauge
	intentsResolved   *prometheus.CounterVec
	invalidIntents    *prometheus.CounterVec
	repliesSuppressed prometheus.Counter

	// 记忆指标
	memoryOperations   *prometheus.CounterVec
	extractionFailures prometheus.Counter
	extractionsSkipped prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of handled conversational turns by outcome",
		},
		[]string{"mode", "status"},
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversational turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	c.rateLimitDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by result",
		},
		[]string{"result"},
	)

	c.moderationBlocks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_blocks_total",
			Help:      "Texts rejected by content moderation by stage",
		},
		[]string{"stage"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"operation", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"type"}, // type: prompt, completion
	)

	c.engineRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_runs_total",
			Help:      "Decision engine runs by engine and outcome",
		},
		[]string{"engine", "status"},
	)

	c.engineDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Decision engine run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"engine"},
	)

	c.enginesAbandoned = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines_abandoned_running",
			Help:      "Engine goroutines still running after their deadline",
		},
	)

	c.intentsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_resolved_total",
			Help:      "Intents returned to the executor by type",
		},
		[]string{"type"},
	)

	c.invalidIntents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_intents_total",
			Help:      "Nil intents returned by engines and dropped before resolution",
		},
		[]string{"engine"},
	)

	c.repliesSuppressed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_suppressed_total",
			Help:      "Reply intents dropped by conflict resolution",
		},
	)

	c.memoryOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Long-term memory operations by kind",
		},
		[]string{"operation"},
	)

	c.extractionFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_extraction_failures_total",
			Help:      "Background memory extractions that failed",
		},
	)

	c.extractionsSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_extractions_skipped_total",
			Help:      "Background memory extractions skipped because the worker limit was reached",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordTurn 记录一轮对话
func (c *Collector) RecordTurn(mode, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(mode, status).Inc()
	c.turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordRateLimit 记录限流决策（allowed / rejected / store_error）
func (c *Collector) RecordRateLimit(result string) {
	if c == nil {
		return
	}
	c.rateLimitDecisions.WithLabelValues(result).Inc()
}

// RecordModerationBlock 记录审核拦截
func (c *Collector) RecordModerationBlock(stage string) {
	if c == nil {
		return
	}
	c.moderationBlocks.WithLabelValues(stage).Inc()
}

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(operation, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(operation, status).Inc()
	c.llmRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// RecordEngineRun 记录引擎运行（ok / error / timeout）
func (c *Collector) RecordEngineRun(engine, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.engineRunsTotal.WithLabelValues(engine, status).Inc()
	c.engineDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// EngineAbandoned 超时引擎的 goroutine 仍在运行
func (c *Collector) EngineAbandoned() {
	if c == nil {
		return
	}
	c.enginesAbandoned.Inc()
}

// AbandonedEngineFinished 超时引擎的 goroutine 最终退出
func (c *Collector) AbandonedEngineFinished() {
	if c == nil {
		return
	}
	c.enginesAbandoned.Dec()
}

// RecordIntent 记录一条交给执行器的 Intent
func (c *Collector) RecordIntent(intentType string) {
	if c == nil {
		return
	}
	c.intentsResolved.WithLabelValues(intentType).Inc()
}

// RecordInvalidIntent 记录引擎返回的无效意图
func (c *Collector) RecordInvalidIntent(engine string) {
	if c == nil {
		return
	}
	c.invalidIntents.WithLabelValues(engine).Inc()
}

// RecordRepliesSuppressed 记录被冲突消解丢弃的回复数
func (c *Collector) RecordRepliesSuppressed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.repliesSuppressed.Add(float64(n))
}

// RecordMemoryOperation 记录记忆操作
func (c *Collector) RecordMemoryOperation(operation string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.memoryOperations.WithLabelValues(operation).Add(float64(n))
}

// RecordExtractionFailure 记录后台记忆抽取失败
func (c *Collector) RecordExtractionFailure() {
	if c == nil {
		return
	}
	c.extractionFailures.Inc()
}

// RecordExtractionSkipped 记录因并发上限被跳过的抽取
func (c *Collector) RecordExtractionSkipped() {
	if c == nil {
		return
	}
	c.extractionsSkipped.Inc()
}
