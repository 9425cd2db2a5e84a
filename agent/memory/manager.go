package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Embedder 文本向量化，由 llm.Client 实现
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor 从对话中抽取记忆候选，由 llm.Client 实现
type Extractor interface {
	ExtractMemoryCandidates(ctx context.Context, turns []types.ChatMessage) ([]types.MemoryCandidate, error)
}

// Option Manager 可选项
type Option func(*Manager)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// Manager 长期记忆管理器
type Manager struct {
	store     Store
	embedder  Embedder
	extractor Extractor
	cfg       config.MemoryConfig
	now       func() time.Time
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewManager 创建记忆管理器
func NewManager(store Store, embedder Embedder, extractor Extractor, cfg config.MemoryConfig, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "memory_manager"))
	return m
}

// =============================================================================
// 🔍 检索
// =============================================================================

// Retrieve 检索与 query 相关的记忆并提升其显著度。limit <= 0 时使用配置值。
func (m *Manager) Retrieve(ctx context.Context, agentID, query, userID string, limit int) ([]types.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = m.cfg.RetrieveLimit
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	now := m.now()
	scored, err := m.store.SearchMemories(ctx, SearchQuery{
		AgentID:   agentID,
		UserID:    userID,
		Embedding: embedding,
		Now:       now,
	})
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "search memories").WithCause(err)
	}

	hits := make([]ScoredMemory, 0, len(scored))
	for _, s := range scored {
		if s.Memory.Expired(now) || s.Similarity < m.cfg.SimilarityThreshold {
			continue
		}
		hits = append(hits, s)
	}
	sortByRelevance(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Memory.ID
	}
	touch := TouchParams{Step: m.cfg.TouchStep, MaxSalience: m.cfg.MaxSalience, Now: now}
	if err := m.store.TouchMemories(ctx, ids, touch); err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "touch memories").WithCause(err)
	}

	out := make([]types.Memory, len(hits))
	for i, h := range hits {
		mem := h.Memory
		mem.Salience = TouchedSalience(mem.Salience, touch.Step, touch.MaxSalience)
		mem.LastAccessedAt = now
		out[i] = mem
	}

	m.metrics.RecordMemoryOperation("retrieved", len(out))
	m.logger.Debug("memories retrieved",
		zap.String("agent_id", agentID),
		zap.Int("candidates", len(scored)),
		zap.Int("returned", len(out)))
	return out, nil
}

// sortByRelevance 相似度降序，相同时最近访问优先，再按创建时间
func sortByRelevance(hits []ScoredMemory) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Memory.LastAccessedAt.Equal(b.Memory.LastAccessedAt) {
			return a.Memory.LastAccessedAt.After(b.Memory.LastAccessedAt)
		}
		return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
	})
}

// =============================================================================
// 💾 存储
// =============================================================================

// Store 存储记忆候选，返回实际写入的记忆。低置信度候选静默丢弃。
func (m *Manager) Store(ctx context.Context, agentID string, candidates []types.MemoryCandidate, userID string) ([]types.Memory, error) {
	accepted := make([]types.MemoryCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence < m.cfg.MinConfidence || strings.TrimSpace(c.Content) == "" || !c.Kind.Valid() {
			continue
		}
		accepted = append(accepted, c)
	}
	if dropped := len(candidates) - len(accepted); dropped > 0 {
		m.metrics.RecordMemoryOperation("dropped", dropped)
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	texts := make([]string, len(accepted))
	for i, c := range accepted {
		texts[i] = c.Content
	}
	embeddings, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed memories: %w", err)
	}

	now := m.now()
	memories := make([]types.Memory, len(accepted))
	for i, c := range accepted {
		memories[i] = types.Memory{
			ID:             uuid.NewString(),
			AgentID:        agentID,
			UserID:         userID,
			Kind:           c.Kind,
			Content:        strings.TrimSpace(c.Content),
			Embedding:      embeddings[i],
			Salience:       c.Confidence,
			CreatedAt:      now,
			LastAccessedAt: now,
			ExpiresAt:      ParseExpiry(c.ExpiresIn, now, m.cfg.DefaultExpiry),
		}
	}

	if err := m.store.InsertMemories(ctx, memories); err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "insert memories").WithCause(err)
	}

	m.metrics.RecordMemoryOperation("stored", len(memories))
	m.logger.Debug("memories stored",
		zap.String("agent_id", agentID),
		zap.Int("stored", len(memories)),
		zap.Int("dropped", len(candidates)-len(accepted)))
	return memories, nil
}

// ExtractFromConversation 从最近的对话中抽取并存储记忆
func (m *Manager) ExtractFromConversation(ctx context.Context, agentID, userID string, turns []types.ChatMessage) ([]types.Memory, error) {
	if m.extractor == nil || len(turns) == 0 {
		return nil, nil
	}
	candidates, err := m.extractor.ExtractMemoryCandidates(ctx, turns)
	if err != nil {
		return nil, err
	}
	return m.Store(ctx, agentID, candidates, userID)
}

// =============================================================================
// ⏳ 衰减与清理
// =============================================================================

// Decay 对 Agent 的记忆施加衰减，factor 必须在 (0,1) 内
func (m *Manager) Decay(ctx context.Context, agentID string, factor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("decay factor must be in (0,1), got %v", factor))
	}

	n, err := m.store.DecayMemories(ctx, agentID, DecayParams{
		Factor: factor,
		Floor:  m.cfg.DecayFloor,
		Now:    m.now(),
	})
	if err != nil {
		return 0, types.NewError(types.ErrStorageFailure, "decay memories").WithCause(err)
	}

	m.metrics.RecordMemoryOperation("decayed", int(n))
	return n, nil
}

// PurgeExpired 删除所有已过期记忆
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, types.NewError(types.ErrStorageFailure, "purge expired memories").WithCause(err)
	}
	m.metrics.RecordMemoryOperation("purged", int(n))
	return n, nil
}
