package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DecayScheduler 后台定期衰减全部 Agent 的记忆并清理过期记忆
type DecayScheduler struct {
	manager  *Manager
	agents   AgentLister
	interval time.Duration
	factor   float64
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDecayScheduler 创建衰减调度器
func NewDecayScheduler(manager *Manager, agents AgentLister, interval time.Duration, factor float64, logger *zap.Logger) *DecayScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecayScheduler{
		manager:  manager,
		agents:   agents,
		interval: interval,
		factor:   factor,
		logger:   logger.With(zap.String("component", "memory_decay_scheduler")),
	}
}

// Start 启动调度器
func (s *DecayScheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("decay interval must be positive, got %v", s.interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("decay scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)

	s.logger.Info("memory decay scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止调度器并等待当前一轮结束
func (s *DecayScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("memory decay scheduler stopped")
}

func (s *DecayScheduler) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, s.interval)
			if _, _, err := s.RunOnce(runCtx); err != nil {
				s.logger.Error("memory decay round failed", zap.Error(err))
			}
			cancel()
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce 执行一轮衰减与清理；单个 Agent 失败不影响其余 Agent
func (s *DecayScheduler) RunOnce(ctx context.Context) (decayed, purged int64, err error) {
	ids, err := s.agents.ListAgentIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list agents: %w", err)
	}

	var errs []error
	for _, id := range ids {
		n, err := s.manager.Decay(ctx, id, s.factor)
		if err != nil {
			s.logger.Warn("decay failed", zap.String("agent_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
			continue
		}
		decayed += n
	}

	purged, err = s.manager.PurgeExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	s.logger.Debug("memory decay round finished",
		zap.Int("agents", len(ids)),
		zap.Int64("decayed", decayed),
		zap.Int64("purged", purged))
	return decayed, purged, errors.Join(errs...)
}
