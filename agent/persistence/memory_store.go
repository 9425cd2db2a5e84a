package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/companion/agent/memory"
	"github.com/BaSui01/companion/types"
)

var (
	_ memory.Store       = (*Store)(nil)
	_ memory.AgentLister = (*Store)(nil)
)

const notExpired = "(expires_at IS NULL OR expires_at > ?)"

// SearchMemories 在 SQL 中按 Agent、用户与过期时间过滤，应用侧计算余弦相似度
func (s *Store) SearchMemories(ctx context.Context, q memory.SearchQuery) ([]memory.ScoredMemory, error) {
	if q.Embedding == nil {
		return nil, fmt.Errorf("query embedding is required")
	}

	tx := s.db.WithContext(ctx).
		Where("agent_id = ?", q.AgentID).
		Where(notExpired, q.Now.UTC())
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}

	var rows []memoryModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, storageError("search memories", err)
	}

	out := make([]memory.ScoredMemory, len(rows))
	for i := range rows {
		out[i] = memory.ScoredMemory{
			Memory:     rows[i].toType(),
			Similarity: memory.CosineSimilarity(q.Embedding, rows[i].Embedding),
		}
	}
	return out, nil
}

// TouchMemories 单条 UPDATE 提升显著度并刷新访问时间，显著度不超过上限
func (s *Store) TouchMemories(ctx context.Context, ids []string, p memory.TouchParams) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&memoryModel{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"salience": gorm.Expr(
				"CASE WHEN salience >= ? THEN salience WHEN salience + ? > ? THEN ? ELSE salience + ? END",
				p.MaxSalience, p.Step, p.MaxSalience, p.MaxSalience, p.Step),
			"last_accessed_at": p.Now.UTC(),
		}).Error
	if err != nil {
		return storageError("touch memories", err)
	}
	return nil
}

// InsertMemories 批量写入记忆
func (s *Store) InsertMemories(ctx context.Context, memories []types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	rows := make([]memoryModel, len(memories))
	for i, mem := range memories {
		rows[i] = memoryFromType(mem)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return storageError("insert memories", err)
	}
	return nil
}

// DecayMemories 单条 UPDATE 衰减未过期且高于下限的记忆
func (s *Store) DecayMemories(ctx context.Context, agentID string, p memory.DecayParams) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&memoryModel{}).
		Where("agent_id = ? AND salience > ?", agentID, p.Floor).
		Where(notExpired, p.Now.UTC()).
		UpdateColumn("salience", gorm.Expr("salience * ?", p.Factor))
	if res.Error != nil {
		return 0, storageError("decay memories", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeExpired 删除已过期记忆
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Delete(&memoryModel{})
	if res.Error != nil {
		return 0, storageError("purge memories", res.Error)
	}
	return res.RowsAffected, nil
}

// ListAgentIDs 返回持有记忆的 Agent
func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&memoryModel{}).
		Distinct().
		Order("agent_id").
		Pluck("agent_id", &ids).Error
	if err != nil {
		return nil, storageError("list memory agents", err)
	}
	return ids, nil
}
