package brain

import (
	"context"
	"errors"
	"fmt"
)

// Executor 把意图翻译为平台侧副作用，每种意图对应一个方法
type Executor interface {
	Reply(ctx context.Context, in ReplyIntent) error
	Delete(ctx context.Context, in DeleteIntent) error
	Warn(ctx context.Context, in WarnIntent) error
	Timeout(ctx context.Context, in TimeoutIntent) error
	Ban(ctx context.Context, in BanIntent) error
	SchedulePost(ctx context.Context, in SchedulePostIntent) error
	LogMetric(ctx context.Context, in LogMetricIntent) error
	LogModeration(ctx context.Context, in LogModerationIntent) error
	UpdateEngagement(ctx context.Context, in UpdateEngagementIntent) error
	CreateMemory(ctx context.Context, in CreateMemoryIntent) error
	ExecuteTool(ctx context.Context, in ExecuteToolIntent) error
}

// Dispatch 按顺序执行意图。单个意图失败不会中断其余意图，全部错误合并返回。
func Dispatch(ctx context.Context, exec Executor, intents []Intent) error {
	var errs []error
	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := dispatchOne(ctx, exec, in); err != nil {
			if n, ok := normalizeIntent(in); ok {
				base := n.Base()
				err = fmt.Errorf("%s intent %s: %w", base.Type, base.ID, err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dispatchOne(ctx context.Context, exec Executor, in Intent) error {
	in, ok := normalizeIntent(in)
	if !ok {
		return errors.New("nil intent")
	}
	switch v := in.(type) {
	case ReplyIntent:
		return exec.Reply(ctx, v)
	case DeleteIntent:
		return exec.Delete(ctx, v)
	case WarnIntent:
		return exec.Warn(ctx, v)
	case TimeoutIntent:
		return exec.Timeout(ctx, v)
	case BanIntent:
		return exec.Ban(ctx, v)
	case SchedulePostIntent:
		return exec.SchedulePost(ctx, v)
	case LogMetricIntent:
		return exec.LogMetric(ctx, v)
	case LogModerationIntent:
		return exec.LogModeration(ctx, v)
	case UpdateEngagementIntent:
		return exec.UpdateEngagement(ctx, v)
	case CreateMemoryIntent:
		return exec.CreateMemory(ctx, v)
	case ExecuteToolIntent:
		return exec.ExecuteTool(ctx, v)
	default:
		return fmt.Errorf("unsupported intent type %T", in)
	}
}
