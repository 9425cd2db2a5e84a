package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/llm/retry"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/testutil/mocks"
	"github.com/BaSui01/companion/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		Model:           "test-model",
		ExtractionModel: "test-extract",
		MaxTokens:       128,
		Retry: retry.RetryPolicy{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func newTestClient(t *testing.T, p *mocks.MockProvider, e *mocks.MockEmbedder, c *mocks.MockClassifier) *llm.Client {
	t.Helper()
	collector := metrics.NewCollector("test", prometheus.NewRegistry(), nil)
	return llm.NewClient(p, e, c, testClientConfig(),
		llm.WithLogger(zaptest.NewLogger(t)),
		llm.WithMetrics(collector),
	)
}

func TestClient_Complete(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("hi there")
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	ctx := types.WithUserID(testutil.TestContext(t), "u1")
	resp, err := client.Complete(ctx, []types.Message{types.NewUserMessage("hello")})
	require.NoError(t, err)

	assert.Equal(t, "hi there", resp.Content)
	req := provider.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 128, req.MaxTokens)
	assert.Equal(t, "u1", req.User)
}

func TestClient_Complete_RetriesRetryableErrors(t *testing.T) {
	provider := mocks.NewMockProvider().WithFailFirst(2).WithResponse("ok")
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	resp, err := client.Complete(testutil.TestContext(t), []types.Message{types.NewUserMessage("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, provider.CallCount())
}

func TestClient_Complete_DoesNotRetryPlainErrors(t *testing.T) {
	provider := mocks.NewMockProvider().WithError(mocks.ErrMockUnavailable)
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	_, err := client.Complete(testutil.TestContext(t), []types.Message{types.NewUserMessage("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, mocks.ErrMockUnavailable)
	assert.Equal(t, 1, provider.CallCount())
}

func TestClient_CompleteStream(t *testing.T) {
	provider := mocks.NewMockProvider().WithStreamChunks("Hel", "lo", "!")
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	ch, err := client.CompleteStream(testutil.TestContext(t), []types.Message{types.NewUserMessage("x")})
	require.NoError(t, err)

	chunks := testutil.CollectStreamChunks(ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Delta)
	assert.Equal(t, "stop", chunks[2].FinishReason)
	require.NotNil(t, chunks[2].Usage)
}

func TestClient_CompleteStream_ErrorChunk(t *testing.T) {
	boom := errors.New("connection reset")
	provider := mocks.NewMockProvider().WithStreamChunks("partial").WithStreamError(boom)
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	ch, err := client.CompleteStream(testutil.TestContext(t), []types.Message{types.NewUserMessage("x")})
	require.NoError(t, err)

	chunks := testutil.CollectStreamChunks(ch)
	require.Len(t, chunks, 2)
	assert.ErrorIs(t, chunks[1].Err, boom)
}

func TestClient_EmbedBatch(t *testing.T) {
	embedder := mocks.NewMockEmbedder(3).Set("tea", []float32{1, 0, 0})
	client := newTestClient(t, mocks.NewMockProvider(), embedder, mocks.NewMockClassifier())
	ctx := testutil.TestContext(t)

	vectors, err := client.EmbedBatch(ctx, []string{"tea", "coffee"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])
	assert.Equal(t, []int{2}, embedder.BatchSizes())

	empty, err := client.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
	assert.Equal(t, 1, embedder.Calls(), "empty batch must not reach the embedder")

	single, err := client.Embed(ctx, "tea")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, single)
}

func TestClient_ClassifySafety(t *testing.T) {
	classifier := mocks.NewMockClassifier().Flag("bad words")
	client := newTestClient(t, mocks.NewMockProvider(), mocks.NewMockEmbedder(4), classifier)
	ctx := testutil.TestContext(t)

	verdict, err := client.ClassifySafety(ctx, "bad words")
	require.NoError(t, err)
	assert.True(t, verdict.Flagged)

	verdict, err = client.ClassifySafety(ctx, "hello")
	require.NoError(t, err)
	assert.False(t, verdict.Flagged)
}

func TestIsRetryable(t *testing.T) {
	retryable := &llm.Error{Code: llm.ErrRateLimited, Retryable: true}
	assert.True(t, llm.IsRetryable(retryable))
	assert.True(t, llm.IsRetryable(errors.Join(errors.New("ctx"), retryable)))
	assert.False(t, llm.IsRetryable(&llm.Error{Code: llm.ErrInvalidRequest}))
	assert.False(t, llm.IsRetryable(context.Canceled))
}
