package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/companion/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧠 记忆抽取
// =============================================================================

const extractionSystemPrompt = `You extract long-term memories about the user from a conversation.
Return a JSON object of the form:
{"memories":[{"content":"...","type":"FACT|PREFERENCE|EVENT|EMOTION","confidence":0.0,"expires_in":"..."}]}
Rules:
- Only include information worth remembering in future conversations.
- "content" is a short third-person statement about the user.
- "confidence" is between 0 and 1.
- "expires_in" is a duration such as "2 days", "1 week" or "never"; omit it for lasting facts.
- Return {"memories":[]} when there is nothing to remember.`

type extractedMemory struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	ExpiresIn  string  `json:"expires_in"`
}

type extractionPayload struct {
	Memories []extractedMemory `json:"memories"`
}

// ExtractMemoryCandidates 从最近的对话中抽取记忆候选。
// 上游错误返回 MEMORY_EXTRACTION_FAILED；输出无法解析时返回空列表。不重试。
func (c *Client) ExtractMemoryCandidates(ctx context.Context, turns []types.ChatMessage) ([]types.MemoryCandidate, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	var transcript strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&transcript, "%s: %s\n", turn.Speaker, turn.Content)
	}

	req := &ChatRequest{
		Model: c.cfg.ExtractionModel,
		Messages: []types.Message{
			types.NewSystemMessage(extractionSystemPrompt),
			types.NewUserMessage(transcript.String()),
		},
		Temperature:    0,
		ResponseFormat: ResponseFormatJSONObject,
		User:           userFromContext(ctx),
	}

	attemptCtx, cancel := c.attemptContext(ctx)
	defer cancel()

	resp, err := c.provider.Completion(attemptCtx, req)
	if err != nil {
		c.metrics.RecordLLMRequest("extract", "error", 0, 0, 0)
		return nil, types.NewError(types.ErrMemoryExtractionFailed, "memory extraction request failed").WithCause(err)
	}
	c.metrics.RecordLLMRequest("extract", "ok", 0, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	candidates := ParseMemoryCandidates(resp.Content)
	if candidates == nil {
		c.logger.Debug("extraction output not parseable", zap.Int("length", len(resp.Content)))
	}
	return candidates, nil
}

// ParseMemoryCandidates 宽容地解析抽取输出；无法解析时返回 nil
func ParseMemoryCandidates(raw string) []types.MemoryCandidate {
	body := stripCodeFence(strings.TrimSpace(raw))
	if body == "" {
		return nil
	}

	var items []extractedMemory
	switch body[0] {
	case '{':
		var payload extractionPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return nil
		}
		items = payload.Memories
	case '[':
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil
		}
	default:
		start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
		if start < 0 || end <= start {
			return nil
		}
		return ParseMemoryCandidates(body[start : end+1])
	}

	candidates := make([]types.MemoryCandidate, 0, len(items))
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		kind := types.MemoryKind(strings.ToUpper(strings.TrimSpace(item.Type)))
		if content == "" || !kind.Valid() {
			continue
		}
		candidates = append(candidates, types.MemoryCandidate{
			Content:    content,
			Kind:       kind,
			Confidence: clampUnit(item.Confidence),
			ExpiresIn:  strings.TrimSpace(item.ExpiresIn),
		})
	}
	return candidates
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
