package prompt

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/llm/tokenizer"
	"github.com/BaSui01/companion/types"
)

const (
	// NamePlaceholder 人设模板中的 Agent 名称占位符
	NamePlaceholder = "{{name}}"

	memoryHeader = "What you remember about this user:"
)

// Assembler Prompt 组装器
type Assembler struct {
	historyLimit int
	tokenBudget  int
	tokenizer    tokenizer.Tokenizer
	logger       *zap.Logger
}

// NewAssembler 创建组装器。tok 为 nil 时按配置的模型名构造。
func NewAssembler(cfg config.PromptConfig, tok tokenizer.Tokenizer, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = tokenizer.New(cfg.TokenizerModel, logger)
	}
	return &Assembler{
		historyLimit: cfg.HistoryLimit,
		tokenBudget:  cfg.HistoryTokenBudget,
		tokenizer:    tok,
		logger:       logger.With(zap.String("component", "prompt_assembler")),
	}
}

// BuildMessages 组装本轮消息
func (a *Assembler) BuildMessages(actx types.AgentContext, userMessage string) []types.Message {
	messages := make([]types.Message, 0, len(actx.History)+3)
	messages = append(messages, types.NewSystemMessage(RenderPersona(actx.Agent)))

	if len(actx.Memories) > 0 {
		messages = append(messages, types.NewSystemMessage(RenderMemories(actx.Memories)))
	}

	for _, turn := range a.boundHistory(actx.History) {
		messages = append(messages, types.Message{Role: turn.ModelRole(), Content: turn.Content})
	}

	messages = append(messages, types.NewUserMessage(userMessage))
	return messages
}

// boundHistory 先按条数再按 Token 预算截断，保留最新的消息
func (a *Assembler) boundHistory(history []types.ChatMessage) []types.ChatMessage {
	if a.historyLimit > 0 && len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}
	if a.tokenBudget <= 0 {
		return history
	}

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := history[i].Tokens
		if n <= 0 {
			var err error
			n, err = tokenizer.CountMessage(a.tokenizer, history[i].Content)
			if err != nil {
				a.logger.Warn("token count failed, stopping history window", zap.Error(err))
				break
			}
		}
		if used+n > a.tokenBudget {
			break
		}
		used += n
		start = i
	}

	if start > 0 {
		a.logger.Debug("history trimmed by token budget",
			zap.Int("kept", len(history)-start),
			zap.Int("dropped", start),
			zap.Int("tokens", used))
	}
	return history[start:]
}

// =============================================================================
// 🎭 人设渲染
// =============================================================================

// RenderPersona 渲染人设 system 消息
func RenderPersona(agent types.Agent) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(agent.Persona, NamePlaceholder, agent.Name))

	b.WriteString("\n\nCurrent mood: ")
	b.WriteString(DescribeMood(agent.Mood))
	b.WriteString("\nEnergy: ")
	b.WriteString(DescribeEnergy(agent.Energy))

	if len(agent.Traits) > 0 {
		b.WriteString("\nTraits:")
		for _, name := range sortedTraitNames(agent.Traits) {
			fmt.Fprintf(&b, "\n- %s: %.2f", name, agent.Traits[name])
		}
	}
	return b.String()
}

// DescribeMood 将情绪三维映射为定性描述
func DescribeMood(m types.Mood) string {
	m = m.Clamp()

	valence := "neutral"
	switch {
	case m.Valence > 0.6:
		valence = "positive"
	case m.Valence < -0.4:
		valence = "negative"
	}

	arousal := "relaxed"
	switch {
	case m.Arousal > 0.6:
		arousal = "energetic"
	case m.Arousal < 0.3:
		arousal = "calm"
	}

	dominance := "balanced"
	switch {
	case m.Dominance > 0.6:
		dominance = "assertive"
	case m.Dominance < 0.3:
		dominance = "deferential"
	}

	return valence + ", " + arousal + ", " + dominance
}

// DescribeEnergy 精力档位
func DescribeEnergy(energy float64) string {
	switch {
	case energy > 0.7:
		return "high"
	case energy < 0.3:
		return "low"
	default:
		return "moderate"
	}
}

func sortedTraitNames(traits map[string]float64) []string {
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderMemories 渲染记忆 system 消息
func RenderMemories(memories []types.Memory) string {
	var b strings.Builder
	b.WriteString(memoryHeader)
	for _, m := range memories {
		fmt.Fprintf(&b, "\n- [%s] %s", strings.ToLower(string(m.Kind)), m.Content)
	}
	return b.String()
}
