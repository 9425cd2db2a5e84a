package runtime

import (
	"context"

	"github.com/BaSui01/companion/agent/moderation"
	"github.com/BaSui01/companion/agent/ratelimit"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/types"
)

// Store Agent、会话与消息的持久化
type Store interface {
	CreateAgent(ctx context.Context, agent *types.Agent) error
	// GetAgent 不存在时返回 AGENT_NOT_FOUND
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	GetOrCreateConversation(ctx context.Context, conv *types.Conversation) (*types.Conversation, error)
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	// RecentMessages 返回最近 limit 条消息，按时间正序
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error)
	// AppendTurn 在同一事务内写入 user 与 agent 两条消息
	AppendTurn(ctx context.Context, userMsg, agentMsg types.ChatMessage) error
}

// RateLimiter 用户级限流
type RateLimiter interface {
	Allow(ctx context.Context, key string) ratelimit.Result
}

// Moderator 内容审核
type Moderator interface {
	Moderate(ctx context.Context, text string) moderation.Result
}

// MemoryService 长期记忆检索与抽取
type MemoryService interface {
	Retrieve(ctx context.Context, agentID, query, userID string, limit int) ([]types.Memory, error)
	ExtractFromConversation(ctx context.Context, agentID, userID string, turns []types.ChatMessage) ([]types.Memory, error)
}

// PromptBuilder 组装模型输入
type PromptBuilder interface {
	BuildMessages(actx types.AgentContext, userMessage string) []types.Message
}

// LanguageModel 语言模型调用
type LanguageModel interface {
	Complete(ctx context.Context, messages []types.Message) (*llm.ChatResponse, error)
	CompleteStream(ctx context.Context, messages []types.Message) (<-chan llm.StreamChunk, error)
}

// 编译期检查
var (
	_ RateLimiter   = (*ratelimit.Limiter)(nil)
	_ Moderator     = (*moderation.Moderator)(nil)
	_ LanguageModel = (*llm.Client)(nil)
)
