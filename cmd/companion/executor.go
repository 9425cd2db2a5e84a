package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/brain"
	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 🖥️ 控制台执行器
// =============================================================================

// Tool 控制台可执行的工具
type Tool func(ctx context.Context, args map[string]string) (string, error)

// MemoryWriter 写入长期记忆，由 memory.Manager 实现
type MemoryWriter interface {
	Store(ctx context.Context, agentID string, candidates []types.MemoryCandidate, userID string) ([]types.Memory, error)
}

// consoleExecutor 把意图渲染到终端，处罚状态保存在进程内
type consoleExecutor struct {
	out    io.Writer
	memory MemoryWriter
	tools  map[string]Tool
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	mutedUntil map[string]time.Time
	banned     map[string]string
	scheduled  []brain.SchedulePostIntent
}

var _ brain.Executor = (*consoleExecutor)(nil)

func newConsoleExecutor(out io.Writer, mem MemoryWriter, tools map[string]Tool, logger *zap.Logger) *consoleExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tools == nil {
		tools = map[string]Tool{}
	}
	return &consoleExecutor{
		out:        out,
		memory:     mem,
		tools:      tools,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "console_executor")),
		mutedUntil: make(map[string]time.Time),
		banned:     make(map[string]string),
	}
}

// defaultTools 控制台内置工具
func defaultTools() map[string]Tool {
	return map[string]Tool{
		"time": func(context.Context, map[string]string) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
}

// Restricted 返回用户当前是否被禁言或封禁
func (e *consoleExecutor) Restricted(userID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reason, ok := e.banned[userID]; ok {
		return "you are banned: " + reason, true
	}
	if until, ok := e.mutedUntil[userID]; ok {
		if e.now().Before(until) {
			return fmt.Sprintf("you are timed out until %s", until.Format(time.Kitchen)), true
		}
		delete(e.mutedUntil, userID)
	}
	return "", false
}

func (e *consoleExecutor) Reply(_ context.Context, in brain.ReplyIntent) error {
	_, err := fmt.Fprintf(e.out, "< %s\n", in.Content)
	return err
}

func (e *consoleExecutor) Delete(_ context.Context, in brain.DeleteIntent) error {
	_, err := fmt.Fprintf(e.out, "[removed] message %s: %s\n", in.MessageID, in.Reason)
	return err
}

func (e *consoleExecutor) Warn(_ context.Context, in brain.WarnIntent) error {
	_, err := fmt.Fprintf(e.out, "[warning] %s\n", in.Message)
	return err
}

func (e *consoleExecutor) Timeout(_ context.Context, in brain.TimeoutIntent) error {
	e.mu.Lock()
	e.mutedUntil[in.UserID] = e.now().Add(in.Duration)
	e.mu.Unlock()
	_, err := fmt.Fprintf(e.out, "[timeout] %s muted for %s: %s\n", in.UserID, in.Duration, in.Reason)
	return err
}

func (e *consoleExecutor) Ban(_ context.Context, in brain.BanIntent) error {
	e.mu.Lock()
	e.banned[in.UserID] = in.Reason
	e.mu.Unlock()
	_, err := fmt.Fprintf(e.out, "[ban] %s: %s\n", in.UserID, in.Reason)
	return err
}

func (e *consoleExecutor) SchedulePost(_ context.Context, in brain.SchedulePostIntent) error {
	e.mu.Lock()
	e.scheduled = append(e.scheduled, in)
	sort.SliceStable(e.scheduled, func(i, j int) bool { return e.scheduled[i].At.Before(e.scheduled[j].At) })
	e.mu.Unlock()
	_, err := fmt.Fprintf(e.out, "[scheduled] %s at %s\n", in.Content, in.At.Format(time.RFC3339))
	return err
}

// DuePosts 取出到期的定时消息
func (e *consoleExecutor) DuePosts() []brain.SchedulePostIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	n := 0
	for n < len(e.scheduled) && !e.scheduled[n].At.After(now) {
		n++
	}
	due := append([]brain.SchedulePostIntent(nil), e.scheduled[:n]...)
	e.scheduled = e.scheduled[n:]
	return due
}

func (e *consoleExecutor) LogMetric(_ context.Context, in brain.LogMetricIntent) error {
	fields := []zap.Field{zap.String("name", in.Name), zap.Float64("value", in.Value)}
	for k, v := range in.Labels {
		fields = append(fields, zap.String(k, v))
	}
	e.logger.Debug("metric", fields...)
	return nil
}

func (e *consoleExecutor) LogModeration(_ context.Context, in brain.LogModerationIntent) error {
	e.logger.Info("moderation action",
		zap.String("user_id", in.UserID),
		zap.String("action", in.Action),
		zap.String("reason", in.Reason),
		zap.Strings("categories", in.Categories),
		zap.Int("strikes", in.Strikes))
	return nil
}

func (e *consoleExecutor) UpdateEngagement(_ context.Context, in brain.UpdateEngagementIntent) error {
	e.logger.Debug("engagement updated", zap.String("user_id", in.UserID), zap.Float64("delta", in.Delta))
	return nil
}

func (e *consoleExecutor) CreateMemory(ctx context.Context, in brain.CreateMemoryIntent) error {
	if e.memory == nil {
		return nil
	}
	stored, err := e.memory.Store(ctx, in.AgentID, []types.MemoryCandidate{in.Candidate}, in.UserID)
	if err != nil {
		return err
	}
	e.logger.Debug("memory created", zap.String("agent_id", in.AgentID), zap.Int("stored", len(stored)))
	return nil
}

func (e *consoleExecutor) ExecuteTool(ctx context.Context, in brain.ExecuteToolIntent) error {
	tool, ok := e.tools[in.ToolName]
	if !ok {
		return types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %q is not registered", in.ToolName))
	}
	result, err := tool(ctx, in.Arguments)
	if err != nil {
		return fmt.Errorf("tool %s: %w", in.ToolName, err)
	}
	_, err = fmt.Fprintf(e.out, "[%s] %s\n", in.ToolName, result)
	return err
}
