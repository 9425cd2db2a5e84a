package types

import "time"

// Mood 情绪状态：Valence ∈ [-1,1]，Arousal 与 Dominance ∈ [0,1]
type Mood struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Clamp 将各维度收敛到合法区间
func (m Mood) Clamp() Mood {
	return Mood{
		Valence:   clamp(m.Valence, -1, 1),
		Arousal:   clamp(m.Arousal, 0, 1),
		Dominance: clamp(m.Dominance, 0, 1),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Agent 持久化的 Agent 身份与状态
type Agent struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	Name      string             `json:"name"`
	Persona   string             `json:"persona"`
	Traits    map[string]float64 `json:"traits,omitempty"`
	Mood      Mood               `json:"mood"`
	Energy    float64            `json:"energy"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ChannelType 会话所在的渠道类型
type ChannelType string

const (
	ChannelDirect   ChannelType = "direct"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelWeb      ChannelType = "web"
)

// Conversation Agent 与用户之间的一条会话
type Conversation struct {
	ID                string      `json:"id"`
	AgentID           string      `json:"agent_id"`
	UserID            string      `json:"user_id"`
	ChannelType       ChannelType `json:"channel_type"`
	ExternalChannelID string      `json:"external_channel_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// AgentContext 单轮对话内重建的临时上下文，轮次结束即丢弃
type AgentContext struct {
	Agent    Agent
	History  []ChatMessage
	Memories []Memory
}
