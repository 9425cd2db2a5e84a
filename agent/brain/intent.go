package brain

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/companion/types"
)

// IntentType 意图类型
type IntentType string

const (
	IntentReply            IntentType = "reply"
	IntentDelete           IntentType = "delete"
	IntentWarn             IntentType = "warn"
	IntentTimeout          IntentType = "timeout"
	IntentBan              IntentType = "ban"
	IntentSchedulePost     IntentType = "schedule_post"
	IntentLogMetric        IntentType = "log_metric"
	IntentLogModeration    IntentType = "log_moderation"
	IntentUpdateEngagement IntentType = "update_engagement"
	IntentCreateMemory     IntentType = "create_memory"
	IntentExecuteTool      IntentType = "execute_tool"
)

// Source 意图来源
type Source string

const (
	SourceConversation Source = "conversation"
	SourceModeration   Source = "moderation"
	SourceEngagement   Source = "engagement"
	SourceInsight      Source = "insight"
)

// 默认优先级
const (
	PriorityBan           = 120
	PriorityTimeout       = 110
	PriorityDelete        = 100
	PriorityWarn          = 90
	PriorityReply         = 50
	PriorityLogModeration = 10
	PriorityLogMetric     = 0
)

// Intent 封闭的意图接口，只有本包内嵌 IntentBase 的类型可以实现
type Intent interface {
	Base() IntentBase
	isIntent()
}

// IntentBase 所有意图共有的字段
type IntentBase struct {
	ID        string     `json:"id"`
	Type      IntentType `json:"type"`
	Priority  int        `json:"priority"`
	Source    Source     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
}

// Base 返回公共字段
func (b IntentBase) Base() IntentBase { return b }

func (IntentBase) isIntent() {}

// NewIntentBase 生成带新 ID 与当前时间的公共字段
func NewIntentBase(t IntentType, priority int, source Source) IntentBase {
	return IntentBase{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  priority,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// =============================================================================
// 📦 意图变体
// =============================================================================

// ReplyIntent 在频道中回复
type ReplyIntent struct {
	IntentBase
	ChannelID        string `json:"channel_id"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
}

// DeleteIntent 删除消息
type DeleteIntent struct {
	IntentBase
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// WarnIntent 警告用户
type WarnIntent struct {
	IntentBase
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// TimeoutIntent 临时禁言
type TimeoutIntent struct {
	IntentBase
	ChannelID string        `json:"channel_id"`
	UserID    string        `json:"user_id"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason"`
}

// BanIntent 封禁用户
type BanIntent struct {
	IntentBase
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// SchedulePostIntent 定时发帖
type SchedulePostIntent struct {
	IntentBase
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

// LogMetricIntent 记录业务指标
type LogMetricIntent struct {
	IntentBase
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// LogModerationIntent 记录审核事件
type LogModerationIntent struct {
	IntentBase
	UserID     string   `json:"user_id"`
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
	Categories []string `json:"categories,omitempty"`
	Strikes    int      `json:"strikes"`
}

// UpdateEngagementIntent 调整用户互动度
type UpdateEngagementIntent struct {
	IntentBase
	UserID string  `json:"user_id"`
	Delta  float64 `json:"delta"`
}

// CreateMemoryIntent 写入一条记忆
type CreateMemoryIntent struct {
	IntentBase
	AgentID   string                `json:"agent_id"`
	UserID    string                `json:"user_id"`
	Candidate types.MemoryCandidate `json:"candidate"`
}

// ExecuteToolIntent 调用工具
type ExecuteToolIntent struct {
	IntentBase
	ToolName  string            `json:"tool_name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// =============================================================================
// 🏗️ 构造函数
// =============================================================================

// NewReply 创建回复意图
func NewReply(source Source, priority int, channelID, content, replyTo string) ReplyIntent {
	return ReplyIntent{
		IntentBase:       NewIntentBase(IntentReply, priority, source),
		ChannelID:        channelID,
		Content:          content,
		ReplyToMessageID: replyTo,
	}
}

// NewLogMetric 创建指标意图
func NewLogMetric(source Source, name string, value float64, labels map[string]string) LogMetricIntent {
	return LogMetricIntent{
		IntentBase: NewIntentBase(IntentLogMetric, PriorityLogMetric, source),
		Name:       name,
		Value:      value,
		Labels:     labels,
	}
}

// isPunitive delete/ban/timeout 会压制本轮回复
func isPunitive(t IntentType) bool {
	return t == IntentDelete || t == IntentBan || t == IntentTimeout
}

// normalizeIntent 把指针形式的意图变体转为值，nil 或 typed-nil 返回 false
func normalizeIntent(in Intent) (Intent, bool) {
	if in == nil {
		return nil, false
	}
	if v := reflect.ValueOf(in); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, false
	}
	switch p := in.(type) {
	case *ReplyIntent:
		return *p, true
	case *DeleteIntent:
		return *p, true
	case *WarnIntent:
		return *p, true
	case *TimeoutIntent:
		return *p, true
	case *BanIntent:
		return *p, true
	case *SchedulePostIntent:
		return *p, true
	case *LogMetricIntent:
		return *p, true
	case *LogModerationIntent:
		return *p, true
	case *UpdateEngagementIntent:
		return *p, true
	case *CreateMemoryIntent:
		return *p, true
	case *ExecuteToolIntent:
		return *p, true
	}
	return in, true
}

// normalizeIntents 返回规范化后的意图与被丢弃的无效意图数
func normalizeIntents(intents []Intent) ([]Intent, int) {
	out := make([]Intent, 0, len(intents))
	dropped := 0
	for _, in := range intents {
		n, ok := normalizeIntent(in)
		if !ok {
			dropped++
			continue
		}
		out = append(out, n)
	}
	return out, dropped
}
