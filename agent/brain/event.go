package brain

import (
	"context"
	"time"
)

// Event 一条入站会话事件
type Event struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	// ChannelID 平台侧频道标识，reply/delete 等意图以此定位
	ChannelID string `json:"channel_id"`
	// MessageID 平台侧消息标识
	MessageID string    `json:"message_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine 决策引擎。Decide 必须响应 ctx 取消，副作用只能通过返回的意图表达。
type Engine interface {
	Name() string
	Decide(ctx context.Context, ev Event) ([]Intent, error)
}
