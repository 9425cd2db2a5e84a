package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StrikeStore 用户违规计数
type StrikeStore interface {
	// Add 记一次违规并返回累计次数
	Add(ctx context.Context, userID string) (int, error)
	Reset(ctx context.Context, userID string) error
}

// =============================================================================
// 内存实现
// =============================================================================

// MemoryStrikes 进程内违规计数，适用于单实例与测试
type MemoryStrikes struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStrikes 创建进程内计数
func NewMemoryStrikes() *MemoryStrikes {
	return &MemoryStrikes{counts: make(map[string]int)}
}

func (s *MemoryStrikes) Add(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	return s.counts[userID], nil
}

func (s *MemoryStrikes) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, userID)
	return nil
}

// =============================================================================
// Redis 实现
// =============================================================================

// RedisStrikes 基于 INCR 的共享违规计数，window > 0 时每次违规刷新过期时间
type RedisStrikes struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisStrikes 创建 Redis 计数
func NewRedisStrikes(client redis.Cmdable, prefix string, window time.Duration) *RedisStrikes {
	if prefix == "" {
		prefix = "companion:strikes:"
	}
	return &RedisStrikes{client: client, prefix: prefix, window: window}
}

func (s *RedisStrikes) Add(ctx context.Context, userID string) (int, error) {
	key := s.prefix + userID
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if s.window > 0 {
			pipe.Expire(ctx, key, s.window)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record strike: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStrikes) Reset(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.prefix+userID).Err(); err != nil {
		return fmt.Errorf("reset strikes: %w", err)
	}
	return nil
}
