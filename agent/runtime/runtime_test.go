package runtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/memory"
	"github.com/BaSui01/companion/agent/moderation"
	"github.com/BaSui01/companion/agent/persistence"
	"github.com/BaSui01/companion/agent/prompt"
	"github.com/BaSui01/companion/agent/ratelimit"
	"github.com/BaSui01/companion/agent/runtime"
	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/llm/tokenizer"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/testutil/mocks"
	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

// countingStore 记录写操作次数
type countingStore struct {
	runtime.Store
	appends    atomic.Int32
	failAppend error
}

func (s *countingStore) AppendTurn(ctx context.Context, userMsg, agentMsg types.ChatMessage) error {
	s.appends.Add(1)
	if s.failAppend != nil {
		return s.failAppend
	}
	return s.Store.AppendTurn(ctx, userMsg, agentMsg)
}

// stubMemory 可控的记忆服务
type stubMemory struct {
	mu          sync.Mutex
	memories    []types.Memory
	retrieveErr error
	extractErr  error
	block       chan struct{}
	extracted   [][]types.ChatMessage
}

func (m *stubMemory) Retrieve(ctx context.Context, agentID, query, userID string, limit int) ([]types.Memory, error) {
	return m.memories, m.retrieveErr
}

func (m *stubMemory) ExtractFromConversation(ctx context.Context, agentID, userID string, turns []types.ChatMessage) ([]types.Memory, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	m.extracted = append(m.extracted, turns)
	m.mu.Unlock()
	return nil, m.extractErr
}

func (m *stubMemory) extractCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.extracted)
}

type fixture struct {
	rt       *runtime.Runtime
	store    *countingStore
	db       *persistence.Store
	provider *mocks.MockProvider
	memory   *stubMemory
	registry *prometheus.Registry
	agentID  string
	convID   string
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	maxRequests int
	maxExtracts int64
}

func withMaxRequests(n int) fixtureOption {
	return func(c *fixtureConfig) { c.maxRequests = n }
}

func withMaxExtracts(n int64) fixtureOption {
	return func(c *fixtureConfig) { c.maxExtracts = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := fixtureConfig{maxRequests: 100, maxExtracts: 4}
	for _, opt := range opts {
		opt(&fc)
	}

	db := persistence.NewStore(testutil.NewTestDB(t), nil)
	require.NoError(t, db.Migrate(context.Background()))

	redisClient, _ := testutil.NewTestRedis(t)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", registry, zap.NewNop())

	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		Window: time.Minute, MaxRequests: fc.maxRequests, KeyPrefix: "test:rl:",
	}, ratelimit.WithMetrics(collector))
	moderator := moderation.NewModerator(config.ModerationConfig{Blocklist: []string{"forbidden"}}, nil, collector, nil)

	provider := mocks.NewMockProvider().WithResponse("Nice to hear from you!").WithTokenUsage(12, 6)
	client := llm.NewClient(provider, mocks.NewMockEmbedder(4), nil, llm.ClientConfig{Model: "test"})

	f := &fixture{
		store:    &countingStore{Store: db},
		db:       db,
		provider: provider,
		memory:   &stubMemory{},
		registry: registry,
	}

	rt, err := runtime.New(runtime.Deps{
		Store:     f.store,
		Limiter:   limiter,
		Moderator: moderator,
		Memory:    f.memory,
		Prompt:    prompt.NewAssembler(config.PromptConfig{HistoryLimit: 20}, tokenizer.NewEstimatorTokenizer(), nil),
		LLM:       client,
	}, runtime.Config{
		FallbackReply:         "Let's talk about something else.",
		ExtractionTimeout:     time.Second,
		MaxConcurrentExtracts: fc.maxExtracts,
		HistoryLimit:          20,
	}, runtime.WithMetrics(collector), runtime.WithTokenizer(tokenizer.NewEstimatorTokenizer()))
	require.NoError(t, err)
	f.rt = rt
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	ctx := context.Background()
	f.agentID, err = rt.CreateAgent(ctx, runtime.CreateAgentRequest{UserID: "user-1", Name: "Mira"})
	require.NoError(t, err)
	f.convID, err = rt.GetOrCreateConversation(ctx, runtime.ConversationRequest{AgentID: f.agentID, UserID: "user-1"})
	require.NoError(t, err)
	return f
}

func (f *fixture) request(content string) runtime.MessageRequest {
	return runtime.MessageRequest{AgentID: f.agentID, UserID: "user-1", ConversationID: f.convID, Content: content}
}

func (f *fixture) history(t *testing.T) []types.ChatMessage {
	t.Helper()
	msgs, err := f.db.RecentMessages(context.Background(), f.convID, 0)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// =============================================================================
// 💬 HandleMessage
// =============================================================================

func TestHandleMessage_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.memory.memories = []types.Memory{{Kind: types.MemoryPreference, Content: "likes oolong"}}

	resp, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hello there"))
	require.NoError(t, err)
	assert.Equal(t, "Nice to hear from you!", resp.Response)
	assert.Equal(t, 18, resp.Tokens)
	assert.False(t, resp.OutputBlocked)
	assert.Equal(t, 1, resp.MemoriesUsed)

	sent := f.provider.LastRequest()
	require.NotNil(t, sent)
	require.Len(t, sent.Messages, 3)
	assert.Contains(t, sent.Messages[0].Content, "Mira")
	assert.Contains(t, sent.Messages[1].Content, "likes oolong")
	assert.Equal(t, "hello there", sent.Messages[2].Content)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, types.SpeakerUser, history[0].Speaker)
	assert.Equal(t, "hello there", history[0].Content)
	assert.Equal(t, types.SpeakerAgent, history[1].Speaker)
	assert.Equal(t, 6, history[1].Tokens)

	require.NoError(t, f.rt.Close(testutil.TestContext(t)))
	assert.Equal(t, 1, f.memory.extractCalls())
}

func TestHandleMessage_HistoryIncludedNextTurn(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	_, err := f.rt.HandleMessage(ctx, f.request("first"))
	require.NoError(t, err)
	_, err = f.rt.HandleMessage(ctx, f.request("second"))
	require.NoError(t, err)

	sent := f.provider.LastRequest()
	require.Len(t, sent.Messages, 4)
	assert.Equal(t, "first", sent.Messages[1].Content)
	assert.Equal(t, types.RoleAssistant, sent.Messages[2].Role)
	assert.Equal(t, "second", sent.Messages[3].Content)
}

func TestHandleMessage_RateLimitedDoesNothing(t *testing.T) {
	f := newFixture(t, withMaxRequests(1))
	ctx := testutil.TestContext(t)

	_, err := f.rt.HandleMessage(ctx, f.request("one"))
	require.NoError(t, err)

	_, err = f.rt.HandleMessage(ctx, f.request("two"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimitExceeded))

	assert.Equal(t, int32(1), f.store.appends.Load())
	assert.Equal(t, 1, f.provider.CallCount())
	assert.Len(t, f.history(t), 2)
	assert.Equal(t, 2.0, f.counter(t, "test_rate_limit_decisions_total"))
}

func TestHandleMessage_InputBlocked(t *testing.T) {
	f := newFixture(t)

	_, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("this is Forbidden talk"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrContentBlocked))

	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, moderation.ReasonBlocklist, typed.Message)

	assert.Zero(t, f.store.appends.Load())
	assert.Zero(t, f.provider.CallCount())
	assert.Empty(t, f.history(t))
}

func TestHandleMessage_OutputBlockedUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.provider.WithResponse("some forbidden reply")

	resp, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)
	assert.True(t, resp.OutputBlocked)
	assert.Equal(t, "Let's talk about something else.", resp.Response)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, "Let's talk about something else.", history[1].Content)
}

func TestHandleMessage_AgentNotFound(t *testing.T) {
	f := newFixture(t)
	req := f.request("hi")
	req.AgentID = "ghost"

	_, err := f.rt.HandleMessage(testutil.TestContext(t), req)
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
	assert.Zero(t, f.provider.CallCount())
}

func TestHandleMessage_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	req := f.request("   ")

	_, err := f.rt.HandleMessage(testutil.TestContext(t), req)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestHandleMessage_MemoryFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.memory.retrieveErr = errors.New("vector store down")

	resp, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)
	assert.Zero(t, resp.MemoriesUsed)
	assert.Len(t, f.provider.LastRequest().Messages, 2)
}

func TestHandleMessage_StorageFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.store.failAppend = errors.New("disk full")

	_, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStorageFailure))

	require.NoError(t, f.rt.Close(testutil.TestContext(t)))
	assert.Zero(t, f.memory.extractCalls())
}

func TestHandleMessage_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.WithError(errors.New("model exploded"))

	_, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.Error(t, err)
	assert.Zero(t, f.store.appends.Load())
}

// =============================================================================
// 🧠 记忆抽取
// =============================================================================

func TestExtractionFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	f.memory.extractErr = types.NewError(types.ErrMemoryExtractionFailed, "bad json")

	_, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)

	require.NoError(t, f.rt.Close(testutil.TestContext(t)))
	assert.Equal(t, 1.0, f.counter(t, "test_memory_extraction_failures_total"))
}

func TestExtractionIsBoundedAndClosedWaits(t *testing.T) {
	f := newFixture(t, withMaxExtracts(1))
	f.memory.block = make(chan struct{})
	ctx := testutil.TestContext(t)

	_, err := f.rt.HandleMessage(ctx, f.request("one"))
	require.NoError(t, err)
	_, err = f.rt.HandleMessage(ctx, f.request("two"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, f.counter(t, "test_memory_extractions_skipped_total"))

	closed := make(chan error, 1)
	go func() { closed <- f.rt.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while extraction was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.memory.block)
	err, ok := testutil.WaitForChannel(closed, time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, f.memory.extractCalls())
}

func TestClose_DeadlineCancelsExtraction(t *testing.T) {
	f := newFixture(t)
	f.memory.block = make(chan struct{})

	_, err := f.rt.HandleMessage(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.rt.Close(ctx), context.DeadlineExceeded)
}

// =============================================================================
// 🌊 HandleMessageStream
// =============================================================================

func collect(t *testing.T, ch <-chan runtime.StreamEvent) []runtime.StreamEvent {
	t.Helper()
	var events []runtime.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestHandleMessageStream(t *testing.T) {
	f := newFixture(t)
	f.provider.WithStreamChunks("Hel", "lo ", "friend")

	ch, err := f.rt.HandleMessageStream(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, "Hel", events[0].Delta)
	assert.Equal(t, "friend", events[2].Delta)

	final := events[3]
	assert.True(t, final.Done)
	assert.NoError(t, final.Err)
	assert.Equal(t, "Hello friend", final.Response)
	assert.False(t, final.Blocked)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, "Hello friend", history[1].Content)
}

func TestHandleMessageStream_OutputBlocked(t *testing.T) {
	f := newFixture(t)
	f.provider.WithStreamChunks("totally ", "forbidden")

	ch, err := f.rt.HandleMessageStream(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1, "blocked output must not leak as deltas")
	final := events[0]
	assert.True(t, final.Done)
	assert.True(t, final.Blocked)
	assert.Empty(t, final.Delta)
	assert.Equal(t, "Let's talk about something else.", final.Response)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, "Let's talk about something else.", history[1].Content)
}

func TestHandleMessageStream_RejectsSynchronously(t *testing.T) {
	f := newFixture(t)

	ch, err := f.rt.HandleMessageStream(testutil.TestContext(t), f.request("forbidden"))
	assert.Nil(t, ch)
	assert.True(t, types.IsCode(err, types.ErrContentBlocked))
	assert.Zero(t, f.store.appends.Load())
}

func TestHandleMessageStream_UpstreamErrorMidStream(t *testing.T) {
	f := newFixture(t)
	f.provider.WithStreamChunks("partial").WithStreamError(errors.New("connection dropped"))

	ch, err := f.rt.HandleMessageStream(testutil.TestContext(t), f.request("hi"))
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	final := events[0]
	assert.True(t, final.Done)
	assert.Error(t, final.Err)
	assert.Zero(t, f.store.appends.Load())
}

// =============================================================================
// 🤖 Agent 与会话
// =============================================================================

func TestCreateAgentAndConversation(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	agent, err := f.db.GetAgent(ctx, f.agentID)
	require.NoError(t, err)
	assert.Equal(t, runtime.DefaultPersona, agent.Persona)
	assert.Equal(t, "user-1", agent.OwnerID)

	again, err := f.rt.GetOrCreateConversation(ctx, runtime.ConversationRequest{AgentID: f.agentID, UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, f.convID, again)

	_, err = f.rt.GetOrCreateConversation(ctx, runtime.ConversationRequest{AgentID: "ghost", UserID: "user-1"})
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))

	_, err = f.rt.CreateAgent(ctx, runtime.CreateAgentRequest{UserID: "user-1", Name: "  "})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := runtime.New(runtime.Deps{}, runtime.Config{})
	assert.Error(t, err)
}

var _ runtime.MemoryService = (*memory.Manager)(nil)
