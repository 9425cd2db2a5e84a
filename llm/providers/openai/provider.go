package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/types"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerName = "openai"

// Config OpenAI Provider 配置
type Config struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	ModerationModel string
}

// ConfigFrom 从全局 LLM 配置构建
func ConfigFrom(cfg config.LLMConfig) Config {
	return Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		EmbeddingModel:  cfg.EmbeddingModel,
		ModerationModel: cfg.ModerationModel,
	}
}

// Provider 实现 llm.Provider、llm.Embedder 与 llm.SafetyClassifier
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

var (
	_ llm.Provider         = (*Provider)(nil)
	_ llm.Embedder         = (*Provider)(nil)
	_ llm.SafetyClassifier = (*Provider)(nil)
)

// NewProvider 创建 OpenAI Provider
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

// Name 返回 Provider 名称
func (p *Provider) Name() string { return providerName }

// Completion 发起同步对话补全
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, toChatCompletionRequest(req))
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.Error{
			Code:     llm.ErrEmptyResponse,
			Message:  "no choices returned",
			Provider: providerName,
		}
	}

	return &llm.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        toUsage(resp.Usage),
	}, nil
}

// Stream 发起流式对话补全
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	r := toChatCompletionRequest(req)
	r.Stream = true
	r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, mapError(err)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}

			var chunk llm.StreamChunk
			if err != nil {
				chunk.Err = mapError(err)
			} else {
				if len(resp.Choices) > 0 {
					chunk.Delta = resp.Choices[0].Delta.Content
					chunk.FinishReason = string(resp.Choices[0].FinishReason)
				}
				if resp.Usage != nil {
					u := toUsage(*resp.Usage)
					chunk.Usage = &u
				}
				if chunk.Delta == "" && chunk.FinishReason == "" && chunk.Usage == nil {
					continue
				}
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// Embed 批量生成向量
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &llm.Error{
			Code:     llm.ErrEmptyResponse,
			Message:  fmt.Sprintf("unexpected number of embeddings (got %d, expected %d)", len(resp.Data), len(texts)),
			Provider: providerName,
		}
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Classify 调用 moderation 接口
func (p *Provider) Classify(ctx context.Context, text string) (*llm.SafetyVerdict, error) {
	resp, err := p.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: p.cfg.ModerationModel,
	})
	if err != nil {
		return nil, mapError(err)
	}

	verdict := &llm.SafetyVerdict{}
	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		verdict.Flagged = true
		verdict.Categories = append(verdict.Categories, flaggedCategories(result.Categories)...)
	}
	return verdict, nil
}

// =============================================================================
// 🔄 类型转换
// =============================================================================

func toChatCompletionRequest(req *llm.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:       toRole(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
	}

	r := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		User:        req.User,
	}
	if req.ResponseFormat == llm.ResponseFormatJSONObject {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return r
}

func toRole(role types.Role) string {
	switch role {
	case types.RoleSystem:
		return openai.ChatMessageRoleSystem
	case types.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case types.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func toUsage(u openai.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	add := func(flag bool, name string) {
		if flag {
			out = append(out, name)
		}
	}
	add(c.Hate, "hate")
	add(c.HateThreatening, "hate/threatening")
	add(c.Harassment, "harassment")
	add(c.SelfHarm, "self-harm")
	add(c.Sexual, "sexual")
	add(c.SexualMinors, "sexual/minors")
	add(c.Violence, "violence")
	add(c.ViolenceGraphic, "violence/graphic")
	return out
}
