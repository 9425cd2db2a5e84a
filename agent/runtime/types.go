package runtime

import (
	"time"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/types"
)

// Config 运行时配置
type Config struct {
	FallbackReply         string
	ExtractionTimeout     time.Duration
	MaxConcurrentExtracts int64
	// HistoryLimit 每轮从存储加载的历史消息条数
	HistoryLimit int
	// MemoryLimit 每轮检索的记忆条数，0 使用记忆模块默认值
	MemoryLimit int
}

// ConfigFrom 从全局配置构造
func ConfigFrom(rt config.RuntimeConfig, pc config.PromptConfig, mc config.MemoryConfig) Config {
	return Config{
		FallbackReply:         rt.FallbackReply,
		ExtractionTimeout:     rt.ExtractionTimeout,
		MaxConcurrentExtracts: rt.MaxConcurrentExtracts,
		HistoryLimit:          pc.HistoryLimit,
		MemoryLimit:           mc.RetrieveLimit,
	}
}

// MessageRequest 入站消息
type MessageRequest struct {
	AgentID        string
	UserID         string
	ConversationID string
	Content        string
}

// MessageResponse 一轮对话的结果
type MessageResponse struct {
	Response string
	// Tokens 本轮模型消耗的总 Token
	Tokens int
	// OutputBlocked 模型输出未通过审核，Response 为兜底回复
	OutputBlocked bool
	// MemoriesUsed 本轮注入 Prompt 的记忆条数
	MemoriesUsed int
}

// StreamEvent 流式输出事件。最后一个事件 Done=true，携带审核后的完整回复。
type StreamEvent struct {
	Delta    string
	Done     bool
	Response string
	Blocked  bool
	Tokens   int
	Err      error
}

// CreateAgentRequest 创建 Agent 请求
type CreateAgentRequest struct {
	UserID  string
	Name    string
	Persona string
	Traits  map[string]float64
}

// ConversationRequest 获取或创建会话请求
type ConversationRequest struct {
	AgentID           string
	UserID            string
	ChannelType       types.ChannelType
	ExternalChannelID string
}

// DefaultPersona 未提供人设时使用
const DefaultPersona = "You are {{name}}, a warm and attentive companion. Keep replies natural and concise."

// 新 Agent 的初始状态
var (
	initialMood   = types.Mood{Valence: 0, Arousal: 0.5, Dominance: 0.5}
	initialEnergy = 1.0
)
