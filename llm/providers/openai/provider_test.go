package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewProvider(Config{
		APIKey:          "test-key",
		BaseURL:         server.URL + "/v1",
		EmbeddingModel:  "text-embedding-3-small",
		ModerationModel: "text-moderation-latest",
	}, zaptest.NewLogger(t))
}

func TestProvider_Completion(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
		}`)
	})

	resp, err := p.Completion(testutil.TestContext(t), &llm.ChatRequest{
		Model:          "gpt-4o-mini",
		Messages:       []types.Message{types.NewSystemMessage("be nice"), types.NewUserMessage("hi")},
		MaxTokens:      64,
		ResponseFormat: llm.ResponseFormatJSONObject,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, map[string]any{"type": "json_object"}, captured["response_format"])
}

func TestProvider_Stream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.Stream(testutil.TestContext(t), &llm.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	chunks := testutil.CollectStreamChunks(ch)
	var content string
	var usage *llm.Usage
	for _, c := range chunks {
		require.NoError(t, c.Err)
		content += c.Delta
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	assert.Equal(t, "Hello", content)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.TotalTokens)
}

func TestProvider_Embed_RestoresOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`)
	})

	vectors, err := p.Embed(testutil.TestContext(t), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestProvider_Classify(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"modr-1","model":"text-moderation-latest","results":[
			{"flagged":true,"categories":{"harassment":true,"violence":true}}
		]}`)
	})

	verdict, err := p.Classify(testutil.TestContext(t), "something nasty")
	require.NoError(t, err)
	assert.True(t, verdict.Flagged)
	assert.ElementsMatch(t, []string{"harassment", "violence"}, verdict.Categories)
}

func TestProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		code      llm.ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{http.StatusServiceUnavailable, llm.ErrProviderUnavailable, true},
		{http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{http.StatusBadRequest, llm.ErrInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"upstream said no","type":"error"}}`)
			})

			_, err := p.Completion(testutil.TestContext(t), &llm.ChatRequest{
				Model:    "gpt-4o-mini",
				Messages: []types.Message{types.NewUserMessage("hi")},
			})
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.code, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
		})
	}
}
