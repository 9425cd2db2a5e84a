package memory

import (
	"context"
	"math"
	"time"

	"github.com/BaSui01/companion/types"
)

// SearchQuery 相似度搜索参数
type SearchQuery struct {
	AgentID string
	// UserID 为空时搜索 Agent 的全部记忆
	UserID    string
	Embedding []float32
	// Now 用于排除已过期记忆
	Now time.Time
}

// ScoredMemory 带相似度的记忆
type ScoredMemory struct {
	Memory     types.Memory
	Similarity float64
}

// TouchParams 访问提升参数
type TouchParams struct {
	Step        float64
	MaxSalience float64
	Now         time.Time
}

// DecayParams 衰减参数
type DecayParams struct {
	Factor float64
	Floor  float64
	Now    time.Time
}

// Store 长期记忆存储。每个写操作必须是原子的。
type Store interface {
	// SearchMemories 返回范围内全部未过期记忆及其与查询向量的余弦相似度，顺序不限
	SearchMemories(ctx context.Context, q SearchQuery) ([]ScoredMemory, error)
	// TouchMemories salience += Step（不超过 MaxSalience，已超过的不降低），LastAccessedAt = Now
	TouchMemories(ctx context.Context, ids []string, p TouchParams) error
	// InsertMemories 全部写入或全部失败
	InsertMemories(ctx context.Context, memories []types.Memory) error
	// DecayMemories salience *= Factor，仅作用于未过期且 salience > Floor 的记忆，返回影响行数
	DecayMemories(ctx context.Context, agentID string, p DecayParams) (int64, error)
	// PurgeExpired 删除 ExpiresAt <= now 的记忆，返回删除数
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AgentLister 列出需要后台维护的 Agent
type AgentLister interface {
	ListAgentIDs(ctx context.Context) ([]string, error)
}

// TouchedSalience 计算一次访问后的显著度
func TouchedSalience(current, step, maxSalience float64) float64 {
	if current >= maxSalience {
		return current
	}
	return math.Min(maxSalience, current+step)
}

// CosineSimilarity 计算两个向量的余弦相似度；维度不一致或零向量返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
