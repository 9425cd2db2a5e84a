package brain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/moderation"
	"github.com/BaSui01/companion/agent/runtime"
	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 💬 ConversationEngine
// =============================================================================

// Conversation 单轮对话处理，由 runtime.Runtime 实现
type Conversation interface {
	HandleMessage(ctx context.Context, req runtime.MessageRequest) (*runtime.MessageResponse, error)
}

var _ Conversation = (*runtime.Runtime)(nil)

// ConversationEngine 把事件交给运行时生成回复
type ConversationEngine struct {
	rt     Conversation
	logger *zap.Logger
}

// NewConversationEngine 创建对话引擎
func NewConversationEngine(rt Conversation, logger *zap.Logger) *ConversationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationEngine{
		rt:     rt,
		logger: logger.With(zap.String("component", "conversation_engine")),
	}
}

func (e *ConversationEngine) Name() string { return "conversation" }

// Decide 生成回复与 Token 用量指标；限流或输入被拦截时只产生指标
func (e *ConversationEngine) Decide(ctx context.Context, ev Event) ([]Intent, error) {
	resp, err := e.rt.HandleMessage(ctx, runtime.MessageRequest{
		AgentID:        ev.AgentID,
		UserID:         ev.UserID,
		ConversationID: ev.ConversationID,
		Content:        ev.Content,
	})
	if err != nil {
		switch code := types.GetErrorCode(err); code {
		case types.ErrRateLimitExceeded, types.ErrContentBlocked:
			return []Intent{NewLogMetric(SourceConversation, "turn_rejected", 1, map[string]string{
				"agent_id": ev.AgentID,
				"reason":   string(code),
			})}, nil
		}
		return nil, err
	}

	reply := NewReply(SourceConversation, PriorityReply, ev.ChannelID, resp.Response, ev.MessageID)
	usage := NewLogMetric(SourceConversation, "tokens_used", float64(resp.Tokens), map[string]string{
		"agent_id":       ev.AgentID,
		"output_blocked": fmt.Sprint(resp.OutputBlocked),
	})
	return []Intent{reply, usage}, nil
}

// =============================================================================
// 🛡️ ModerationEngine
// =============================================================================

// ContentModerator 内容审核，由 moderation.Moderator 实现
type ContentModerator interface {
	Moderate(ctx context.Context, text string) moderation.Result
}

// ModerationEngine 审核入站消息并按违规次数升级处罚
type ModerationEngine struct {
	moderator       ContentModerator
	strikes         StrikeStore
	timeoutStrikes  int
	banStrikes      int
	timeoutDuration time.Duration
	logger          *zap.Logger
}

// NewModerationEngine 创建审核引擎；strikes 为 nil 时使用进程内计数
func NewModerationEngine(moderator ContentModerator, strikes StrikeStore, cfg config.ModerationConfig, logger *zap.Logger) *ModerationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strikes == nil {
		strikes = NewMemoryStrikes()
	}
	return &ModerationEngine{
		moderator:       moderator,
		strikes:         strikes,
		timeoutStrikes:  cfg.TimeoutStrikes,
		banStrikes:      cfg.BanStrikes,
		timeoutDuration: cfg.TimeoutDuration,
		logger:          logger.With(zap.String("component", "moderation_engine")),
	}
}

func (e *ModerationEngine) Name() string { return "moderation" }

// Decide 不安全内容产生 delete、warn、logModeration，累计违规达到阈值时追加 timeout 或 ban
func (e *ModerationEngine) Decide(ctx context.Context, ev Event) ([]Intent, error) {
	verdict := e.moderator.Moderate(ctx, ev.Content)
	if verdict.Safe {
		return nil, nil
	}

	strikes, err := e.strikes.Add(ctx, ev.UserID)
	if err != nil {
		// 计数失败时仍然删除违规内容，只是不升级处罚
		e.logger.Warn("strike store failed", zap.String("user_id", ev.UserID), zap.Error(err))
		strikes = 0
	}

	action := "warn"
	intents := []Intent{
		DeleteIntent{
			IntentBase: NewIntentBase(IntentDelete, PriorityDelete, SourceModeration),
			ChannelID:  ev.ChannelID,
			MessageID:  ev.MessageID,
			Reason:     verdict.Reason,
		},
		WarnIntent{
			IntentBase: NewIntentBase(IntentWarn, PriorityWarn, SourceModeration),
			ChannelID:  ev.ChannelID,
			UserID:     ev.UserID,
			Message:    "Your message was removed: " + verdict.Reason,
		},
	}

	switch {
	case e.banStrikes > 0 && strikes >= e.banStrikes:
		action = "ban"
		intents = append(intents, BanIntent{
			IntentBase: NewIntentBase(IntentBan, PriorityBan, SourceModeration),
			UserID:     ev.UserID,
			Reason:     fmt.Sprintf("%d moderation strikes", strikes),
		})
	case e.timeoutStrikes > 0 && strikes >= e.timeoutStrikes:
		action = "timeout"
		intents = append(intents, TimeoutIntent{
			IntentBase: NewIntentBase(IntentTimeout, PriorityTimeout, SourceModeration),
			ChannelID:  ev.ChannelID,
			UserID:     ev.UserID,
			Duration:   e.timeoutDuration,
			Reason:     fmt.Sprintf("%d moderation strikes", strikes),
		})
	}

	intents = append(intents, LogModerationIntent{
		IntentBase: NewIntentBase(IntentLogModeration, PriorityLogModeration, SourceModeration),
		UserID:     ev.UserID,
		Action:     action,
		Reason:     verdict.Reason,
		Categories: verdict.Categories,
		Strikes:    strikes,
	})

	e.logger.Info("unsafe message",
		zap.String("user_id", ev.UserID),
		zap.String("action", action),
		zap.Int("strikes", strikes))
	return intents, nil
}
