package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindowScript 原子地执行 清理 → 计数 → 记录 → 续期。
// 返回 {本次之前的窗口内请求数, 窗口内最早记录的毫秒时间戳}。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {count, oldest}
`)

// Config 限流参数
type Config struct {
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string
}

// ConfigFrom 从全局配置构建
func ConfigFrom(cfg config.RateLimitConfig) Config {
	return Config{
		Window:      cfg.Window,
		MaxRequests: cfg.MaxRequests,
		KeyPrefix:   cfg.KeyPrefix,
	}
}

// Result 限流检查结果
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Option Limiter 可选项
type Option func(*Limiter)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(l *Limiter) { l.metrics = collector }
}

// Limiter 滑动窗口限流器
type Limiter struct {
	client   redis.Cmdable
	defaults Config
	now      func() time.Time
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewLimiter 创建限流器；defaults 供 Allow 与 Reset 使用
func NewLimiter(client redis.Cmdable, defaults Config, opts ...Option) *Limiter {
	l := &Limiter{
		client:   client,
		defaults: defaults,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "rate_limiter"))
	return l
}

// Allow 使用默认参数检查 key
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	return l.CheckLimit(ctx, key, l.defaults)
}

// CheckLimit 检查并记录一次请求。存储错误时拒绝。
func (l *Limiter) CheckLimit(ctx context.Context, key string, cfg Config) Result {
	now := l.now()

	if cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		l.logger.Warn("invalid rate limit config, rejecting",
			zap.String("key", key),
			zap.Duration("window", cfg.Window),
			zap.Int("max_requests", cfg.MaxRequests))
		l.metrics.RecordRateLimit("rejected")
		return Result{Allowed: false, ResetAt: now.Add(cfg.Window)}
	}

	windowMs := cfg.Window.Milliseconds()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	values, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKey(cfg.KeyPrefix, key)},
		nowMs, windowMs, member,
	).Int64Slice()
	if err != nil || len(values) != 2 {
		l.logger.Error("rate limit store failure, rejecting",
			zap.String("key", key),
			zap.Error(err))
		l.metrics.RecordRateLimit("store_error")
		return Result{Allowed: false, ResetAt: now.Add(cfg.Window)}
	}

	countBefore := int(values[0])
	oldest := time.UnixMilli(values[1])

	result := Result{
		Allowed:   countBefore < cfg.MaxRequests,
		Remaining: max(0, cfg.MaxRequests-countBefore-1),
		ResetAt:   oldest.Add(cfg.Window),
	}

	if result.Allowed {
		l.metrics.RecordRateLimit("allowed")
	} else {
		l.metrics.RecordRateLimit("rejected")
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", countBefore),
			zap.Time("reset_at", result.ResetAt))
	}
	return result
}

// Reset 使用默认前缀清除 key 的窗口记录
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.ResetLimit(ctx, key, l.defaults)
}

// ResetLimit 清除 cfg.KeyPrefix 下 key 的窗口记录，与同一 cfg 的 CheckLimit 对应
func (l *Limiter) ResetLimit(ctx context.Context, key string, cfg Config) error {
	if err := l.client.Del(ctx, redisKey(cfg.KeyPrefix, key)).Err(); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", key, err)
	}
	return nil
}

func redisKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
