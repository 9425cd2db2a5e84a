package types

import "time"

// MemoryKind 长期记忆类别
type MemoryKind string

const (
	MemoryFact       MemoryKind = "FACT"
	MemoryPreference MemoryKind = "PREFERENCE"
	MemoryEvent      MemoryKind = "EVENT"
	MemoryEmotion    MemoryKind = "EMOTION"
)

// Valid reports whether k is one of the known kinds.
func (k MemoryKind) Valid() bool {
	switch k {
	case MemoryFact, MemoryPreference, MemoryEvent, MemoryEmotion:
		return true
	}
	return false
}

// Memory 长期记忆条目。内容写入后不再修改，只有 Salience 与 LastAccessedAt
// 会因检索（touch）和衰减而变化。
type Memory struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agent_id"`
	UserID         string     `json:"user_id,omitempty"`
	Kind           MemoryKind `json:"kind"`
	Content        string     `json:"content"`
	Embedding      []float32  `json:"embedding,omitempty"`
	Salience       float64    `json:"salience"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the memory has an expiry at or before now.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// MemoryCandidate 抽取得到的记忆候选
type MemoryCandidate struct {
	Content    string     `json:"content"`
	Kind       MemoryKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	// ExpiresIn 人类可读的过期提示，如 "2 days"、"never"
	ExpiresIn string `json:"expires_in,omitempty"`
}
