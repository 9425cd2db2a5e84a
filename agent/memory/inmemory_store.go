package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/companion/types"
)

// InMemoryStore 是并发安全的进程内 Store，适用于测试与单进程部署
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]types.Memory
}

var (
	_ Store       = (*InMemoryStore)(nil)
	_ AgentLister = (*InMemoryStore)(nil)
)

// NewInMemoryStore 创建进程内存储
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]types.Memory)}
}

func (s *InMemoryStore) SearchMemories(ctx context.Context, q SearchQuery) ([]ScoredMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Embedding == nil {
		return nil, fmt.Errorf("query embedding is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ScoredMemory, 0, len(s.items))
	for _, mem := range s.items {
		if mem.AgentID != q.AgentID || (q.UserID != "" && mem.UserID != q.UserID) || mem.Expired(q.Now) {
			continue
		}
		results = append(results, ScoredMemory{
			Memory:     cloneMemory(mem),
			Similarity: CosineSimilarity(q.Embedding, mem.Embedding),
		})
	}
	return results, nil
}

func (s *InMemoryStore) TouchMemories(ctx context.Context, ids []string, p TouchParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		mem, ok := s.items[id]
		if !ok {
			continue
		}
		mem.Salience = TouchedSalience(mem.Salience, p.Step, p.MaxSalience)
		mem.LastAccessedAt = p.Now
		s.items[id] = mem
	}
	return nil
}

func (s *InMemoryStore) InsertMemories(ctx context.Context, memories []types.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 先校验再写入，保证全有或全无
	for _, mem := range memories {
		if mem.ID == "" {
			return fmt.Errorf("memory id is required")
		}
		if _, exists := s.items[mem.ID]; exists {
			return fmt.Errorf("memory %s already exists", mem.ID)
		}
	}
	for _, mem := range memories {
		s.items[mem.ID] = cloneMemory(mem)
	}
	return nil
}

func (s *InMemoryStore) DecayMemories(ctx context.Context, agentID string, p DecayParams) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, mem := range s.items {
		if mem.AgentID != agentID || mem.Expired(p.Now) || mem.Salience <= p.Floor {
			continue
		}
		mem.Salience *= p.Factor
		s.items[id] = mem
		n++
	}
	return n, nil
}

func (s *InMemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, mem := range s.items {
		if mem.Expired(now) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// ListAgentIDs 返回持有记忆的 Agent，按 ID 排序
func (s *InMemoryStore) ListAgentIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, mem := range s.items {
		seen[mem.AgentID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get 返回指定记忆的副本
func (s *InMemoryStore) Get(id string) (types.Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.items[id]
	if !ok {
		return types.Memory{}, false
	}
	return cloneMemory(mem), true
}

// Len 返回记忆总数
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneMemory(m types.Memory) types.Memory {
	m.Embedding = append([]float32(nil), m.Embedding...)
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		m.ExpiresAt = &t
	}
	return m
}
