package persistence

import (
	"time"

	"github.com/BaSui01/companion/types"
)

// agentModel Agent 表
type agentModel struct {
	ID            string             `gorm:"primaryKey;size:36"`
	OwnerID       string             `gorm:"size:128;not null;index"`
	Name          string             `gorm:"size:128;not null"`
	Persona       string             `gorm:"type:text"`
	Traits        map[string]float64 `gorm:"serializer:json;type:text"`
	MoodValence   float64
	MoodArousal   float64
	MoodDominance float64
	Energy        float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (agentModel) TableName() string { return "companion_agents" }

func (m *agentModel) toType() *types.Agent {
	return &types.Agent{
		ID:      m.ID,
		OwnerID: m.OwnerID,
		Name:    m.Name,
		Persona: m.Persona,
		Traits:  m.Traits,
		Mood: types.Mood{
			Valence:   m.MoodValence,
			Arousal:   m.MoodArousal,
			Dominance: m.MoodDominance,
		},
		Energy:    m.Energy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func agentFromType(a *types.Agent) *agentModel {
	return &agentModel{
		ID:            a.ID,
		OwnerID:       a.OwnerID,
		Name:          a.Name,
		Persona:       a.Persona,
		Traits:        a.Traits,
		MoodValence:   a.Mood.Valence,
		MoodArousal:   a.Mood.Arousal,
		MoodDominance: a.Mood.Dominance,
		Energy:        a.Energy,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

// conversationModel 会话表，(agent, user, channel, external id) 唯一
type conversationModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	AgentID           string `gorm:"size:36;not null;uniqueIndex:idx_conversation_key"`
	UserID            string `gorm:"size:128;not null;uniqueIndex:idx_conversation_key"`
	ChannelType       string `gorm:"size:32;not null;uniqueIndex:idx_conversation_key"`
	ExternalChannelID string `gorm:"size:128;not null;default:'';uniqueIndex:idx_conversation_key"`
	CreatedAt         time.Time
}

func (conversationModel) TableName() string { return "companion_conversations" }

func (m *conversationModel) toType() *types.Conversation {
	return &types.Conversation{
		ID:                m.ID,
		AgentID:           m.AgentID,
		UserID:            m.UserID,
		ChannelType:       types.ChannelType(m.ChannelType),
		ExternalChannelID: m.ExternalChannelID,
		CreatedAt:         m.CreatedAt,
	}
}

// messageModel 消息表，Seq 保证同一时刻写入的两条消息顺序稳定
type messageModel struct {
	Seq            uint64 `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"size:36;not null;uniqueIndex"`
	ConversationID string `gorm:"size:36;not null;index:idx_message_conversation"`
	Speaker        string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text"`
	Tokens         int    `gorm:"default:0"`
	CreatedAt      time.Time
}

func (messageModel) TableName() string { return "companion_messages" }

func (m *messageModel) toType() types.ChatMessage {
	return types.ChatMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Speaker:        types.Speaker(m.Speaker),
		Content:        m.Content,
		Tokens:         m.Tokens,
		CreatedAt:      m.CreatedAt,
	}
}

func messageFromType(msg types.ChatMessage) messageModel {
	return messageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Speaker:        string(msg.Speaker),
		Content:        msg.Content,
		Tokens:         msg.Tokens,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
}

// memoryModel 长期记忆表
type memoryModel struct {
	ID             string     `gorm:"primaryKey;size:36"`
	AgentID        string     `gorm:"size:36;not null;index:idx_memory_owner"`
	UserID         string     `gorm:"size:128;index:idx_memory_owner"`
	Kind           string     `gorm:"size:16;not null"`
	Content        string     `gorm:"type:text;not null"`
	Embedding      []float32  `gorm:"serializer:json;type:text"`
	Salience       float64    `gorm:"not null"`
	ExpiresAt      *time.Time `gorm:"index"`
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

func (memoryModel) TableName() string { return "companion_memories" }

func (m *memoryModel) toType() types.Memory {
	return types.Memory{
		ID:             m.ID,
		AgentID:        m.AgentID,
		UserID:         m.UserID,
		Kind:           types.MemoryKind(m.Kind),
		Content:        m.Content,
		Embedding:      m.Embedding,
		Salience:       m.Salience,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
		ExpiresAt:      m.ExpiresAt,
	}
}

func memoryFromType(mem types.Memory) memoryModel {
	m := memoryModel{
		ID:             mem.ID,
		AgentID:        mem.AgentID,
		UserID:         mem.UserID,
		Kind:           string(mem.Kind),
		Content:        mem.Content,
		Embedding:      mem.Embedding,
		Salience:       mem.Salience,
		CreatedAt:      mem.CreatedAt.UTC(),
		LastAccessedAt: mem.LastAccessedAt.UTC(),
	}
	if mem.ExpiresAt != nil {
		t := mem.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}
	return m
}

// allModels AutoMigrate 的全部表
func allModels() []any {
	return []any{
		&agentModel{},
		&conversationModel{},
		&messageModel{},
		&memoryModel{},
	}
}
