package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 🗄️ GORM 存储
// =============================================================================

// Store Agent、会话、消息与记忆的 GORM 实现
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore 创建存储
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "persistence_store")),
	}
}

// Migrate 自动迁移全部表
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	s.logger.Info("schema migrated")
	return nil
}

func storageError(op string, err error) error {
	return types.NewError(types.ErrStorageFailure, op).WithCause(err)
}

// =============================================================================
// 🤖 Agent
// =============================================================================

// CreateAgent 写入新 Agent，ID 由调用方生成
func (s *Store) CreateAgent(ctx context.Context, agent *types.Agent) error {
	if agent == nil || agent.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "agent id is required")
	}
	if err := s.db.WithContext(ctx).Create(agentFromType(agent)).Error; err != nil {
		return storageError("create agent", err)
	}
	return nil
}

// GetAgent 读取 Agent，不存在时返回 AGENT_NOT_FOUND
func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var m agentModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %s not found", id))
	}
	if err != nil {
		return nil, storageError("get agent", err)
	}
	return m.toType(), nil
}

// =============================================================================
// 💬 会话与消息
// =============================================================================

// GetOrCreateConversation 按 (agent, user, channel, external id) 获取会话，不存在则创建
func (s *Store) GetOrCreateConversation(ctx context.Context, conv *types.Conversation) (*types.Conversation, error) {
	key := map[string]any{
		"agent_id":            conv.AgentID,
		"user_id":             conv.UserID,
		"channel_type":        string(conv.ChannelType),
		"external_channel_id": conv.ExternalChannelID,
	}

	var existing conversationModel
	err := s.db.WithContext(ctx).Where(key).First(&existing).Error
	if err == nil {
		return existing.toType(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError("find conversation", err)
	}

	m := conversationModel{
		ID:                conv.ID,
		AgentID:           conv.AgentID,
		UserID:            conv.UserID,
		ChannelType:       string(conv.ChannelType),
		ExternalChannelID: conv.ExternalChannelID,
		CreatedAt:         conv.CreatedAt.UTC(),
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		// 并发创建时唯一索引冲突，回读胜出方写入的记录
		if rerr := s.db.WithContext(ctx).Where(key).First(&existing).Error; rerr == nil {
			return existing.toType(), nil
		}
		return nil, storageError("create conversation", err)
	}

	s.logger.Debug("conversation created",
		zap.String("conversation_id", m.ID),
		zap.String("agent_id", m.AgentID))
	return m.toType(), nil
}

// GetConversation 读取会话
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var m conversationModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrConversationNotFound, fmt.Sprintf("conversation %s not found", id))
	}
	if err != nil {
		return nil, storageError("get conversation", err)
	}
	return m.toType(), nil
}

// RecentMessages 返回会话最近 limit 条消息，按时间正序
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, storageError("list messages", err)
	}

	out := make([]types.ChatMessage, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toType()
	}
	return out, nil
}

// AppendTurn 在同一事务内写入一轮对话的 user 与 agent 消息
func (s *Store) AppendTurn(ctx context.Context, userMsg, agentMsg types.ChatMessage) error {
	rows := []messageModel{messageFromType(userMsg), messageFromType(agentMsg)}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return storageError("append turn", err)
	}
	return nil
}
