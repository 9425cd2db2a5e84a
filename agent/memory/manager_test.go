package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/companion/agent/memory"
	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/testutil/mocks"
	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	manager  *memory.Manager
	store    *memory.InMemoryStore
	embedder *mocks.MockEmbedder
	provider *mocks.MockProvider
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewInMemoryStore(),
		embedder: mocks.NewMockEmbedder(4),
		provider: mocks.NewMockProvider(),
		clock:    newClock(),
	}
	client := llm.NewClient(f.provider, f.embedder, nil, llm.ClientConfig{Model: "test-model"})
	f.manager = memory.NewManager(f.store, client, client, config.DefaultMemoryConfig(),
		memory.WithClock(f.clock.Now))
	return f
}

func (f *fixture) seed(t *testing.T, mems ...types.Memory) {
	t.Helper()
	require.NoError(t, f.store.InsertMemories(context.Background(), mems))
}

func memoryAt(id string, vec []float32, salience float64, created time.Time) types.Memory {
	return types.Memory{
		ID:             id,
		AgentID:        "agent-1",
		UserID:         "user-1",
		Kind:           types.MemoryPreference,
		Content:        id,
		Embedding:      vec,
		Salience:       salience,
		CreatedAt:      created,
		LastAccessedAt: created,
	}
}

// =============================================================================
// 🔍 检索
// =============================================================================

func TestManager_Retrieve_FiltersAndTouches(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	created := f.clock.Now().Add(-time.Hour)
	past := f.clock.Now().Add(-time.Minute)

	relevant := memoryAt("likes green tea", []float32{1, 0, 0, 0}, 0.5, created)
	unrelated := memoryAt("owns a bike", []float32{0, 1, 0, 0}, 0.9, created)
	expired := memoryAt("exam tomorrow", []float32{1, 0, 0, 0}, 0.9, created)
	expired.ExpiresAt = &past
	otherAgent := memoryAt("other agent tea", []float32{1, 0, 0, 0}, 0.9, created)
	otherAgent.AgentID = "agent-2"
	f.seed(t, relevant, unrelated, expired, otherAgent)

	f.embedder.Set("what tea do I like?", []float32{1, 0, 0, 0})

	got, err := f.manager.Retrieve(ctx, "agent-1", "what tea do I like?", "user-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "likes green tea", got[0].ID)
	assert.InDelta(t, 0.6, got[0].Salience, 1e-9)
	assert.Equal(t, f.clock.Now(), got[0].LastAccessedAt)

	stored, ok := f.store.Get("likes green tea")
	require.True(t, ok)
	assert.InDelta(t, 0.6, stored.Salience, 1e-9)
	assert.True(t, stored.LastAccessedAt.After(created))

	untouched, _ := f.store.Get("owns a bike")
	assert.Equal(t, created, untouched.LastAccessedAt)
}

func TestManager_Retrieve_OrderAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	base := f.clock.Now().Add(-24 * time.Hour)

	f.seed(t,
		memoryAt("exact", []float32{1, 0, 0, 0}, 0.5, base),
		memoryAt("close", []float32{0.9, 0.1, 0, 0}, 0.5, base),
		memoryAt("closer-older", []float32{0.95, 0.05, 0, 0}, 0.5, base.Add(-time.Hour)),
	)
	f.embedder.Set("q", []float32{1, 0, 0, 0})

	got, err := f.manager.Retrieve(ctx, "agent-1", "q", "user-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].ID)
	assert.Equal(t, "closer-older", got[1].ID)
}

func TestManager_Retrieve_BlankQuery(t *testing.T) {
	f := newFixture(t)

	got, err := f.manager.Retrieve(testutil.TestContext(t), "agent-1", "   ", "user-1", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, f.embedder.Calls())
}

func TestManager_Retrieve_TouchCapsAtMax(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	f.seed(t, memoryAt("salient", []float32{0, 0, 1, 0}, 0.97, f.clock.Now()))
	f.embedder.Set("q", []float32{0, 0, 1, 0})

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.manager.Retrieve(ctx, "agent-1", "q", "user-1", 1)
		require.NoError(t, err)
	}

	mem, _ := f.store.Get("salient")
	assert.Equal(t, 1.0, mem.Salience)
	assert.Equal(t, f.clock.Now(), mem.LastAccessedAt)
}

func TestManager_Retrieve_EmbedFailure(t *testing.T) {
	f := newFixture(t)
	f.embedder.WithError(errors.New("embedding backend down"))

	_, err := f.manager.Retrieve(testutil.TestContext(t), "agent-1", "q", "user-1", 1)
	assert.Error(t, err)
}

// =============================================================================
// 💾 存储
// =============================================================================

func TestManager_Store_DropsLowConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	stored, err := f.manager.Store(ctx, "agent-1", []types.MemoryCandidate{
		{Content: "might like jazz", Kind: types.MemoryPreference, Confidence: 0.4},
		{Content: "has a dog named Miso", Kind: types.MemoryFact, Confidence: 0.75},
		{Content: "   ", Kind: types.MemoryFact, Confidence: 0.9},
	}, "user-1")
	require.NoError(t, err)

	require.Len(t, stored, 1)
	assert.Equal(t, "has a dog named Miso", stored[0].Content)
	assert.Equal(t, 0.75, stored[0].Salience)
	assert.Equal(t, "user-1", stored[0].UserID)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, []int{1}, f.embedder.BatchSizes())
}

func TestManager_Store_ExpiryHint(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	stored, err := f.manager.Store(testutil.TestContext(t), "agent-1", []types.MemoryCandidate{
		{Content: "job interview", Kind: types.MemoryEvent, Confidence: 0.9, ExpiresIn: "3 days"},
		{Content: "birthday is June 2", Kind: types.MemoryFact, Confidence: 0.9, ExpiresIn: "never"},
	}, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	require.NotNil(t, stored[0].ExpiresAt)
	assert.Equal(t, now.Add(72*time.Hour), *stored[0].ExpiresAt)
	assert.Nil(t, stored[1].ExpiresAt)
}

func TestManager_Store_NothingAccepted(t *testing.T) {
	f := newFixture(t)

	stored, err := f.manager.Store(testutil.TestContext(t), "agent-1", []types.MemoryCandidate{
		{Content: "maybe", Kind: types.MemoryFact, Confidence: 0.1},
	}, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, f.embedder.Calls())
}

func TestManager_ExtractFromConversation(t *testing.T) {
	f := newFixture(t)
	f.provider.WithResponse(`{"memories":[` +
		`{"content":"likes oolong","type":"preference","confidence":0.9,"expires_in":"never"},` +
		`{"content":"maybe tired","type":"emotion","confidence":0.3}]}`)

	turns := []types.ChatMessage{
		{Speaker: types.SpeakerUser, Content: "I really love oolong tea"},
		{Speaker: types.SpeakerAgent, Content: "Oolong is lovely!"},
	}
	stored, err := f.manager.ExtractFromConversation(testutil.TestContext(t), "agent-1", "user-1", turns)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.MemoryPreference, stored[0].Kind)
	assert.Equal(t, "likes oolong", stored[0].Content)
}

func TestManager_ExtractFromConversation_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.WithError(errors.New("boom"))

	_, err := f.manager.ExtractFromConversation(testutil.TestContext(t), "agent-1", "user-1",
		[]types.ChatMessage{{Speaker: types.SpeakerUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMemoryExtractionFailed))
	assert.Zero(t, f.store.Len())
}

// =============================================================================
// ⏳ 衰减与清理
// =============================================================================

func TestManager_Decay_InvalidFactor(t *testing.T) {
	f := newFixture(t)
	for _, factor := range []float64{0, 1, -0.5, 1.2} {
		_, err := f.manager.Decay(testutil.TestContext(t), "agent-1", factor)
		assert.True(t, types.IsCode(err, types.ErrInvalidRequest), "factor %v", factor)
	}
}

func TestManager_Decay_SkipsFloorAndExpired(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	past := now.Add(-time.Second)

	low := memoryAt("low", []float32{1, 0, 0, 0}, 0.05, now)
	gone := memoryAt("gone", []float32{1, 0, 0, 0}, 0.8, now)
	gone.ExpiresAt = &past
	f.seed(t, memoryAt("normal", []float32{1, 0, 0, 0}, 0.8, now), low, gone)

	n, err := f.manager.Decay(testutil.TestContext(t), "agent-1", 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	m, _ := f.store.Get("normal")
	assert.InDelta(t, 0.4, m.Salience, 1e-9)
	m, _ = f.store.Get("low")
	assert.Equal(t, 0.05, m.Salience)
}

func TestManager_Decay_Compounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("two decays of 0.9 multiply salience by 0.81", prop.ForAll(
		func(salience float64) bool {
			f := newFixture(t)
			ctx := context.Background()
			if err := f.store.InsertMemories(ctx, []types.Memory{
				memoryAt("m", []float32{1, 0, 0, 0}, salience, f.clock.Now()),
			}); err != nil {
				return false
			}
			for i := 0; i < 2; i++ {
				if _, err := f.manager.Decay(ctx, "agent-1", 0.9); err != nil {
					return false
				}
			}
			m, _ := f.store.Get("m")
			diff := m.Salience - salience*0.81
			return diff < 1e-9 && diff > -1e-9
		},
		gen.Float64Range(0.1, 1.0),
	))

	properties.TestingRun(t)
}

func TestManager_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	soon := now.Add(time.Hour)

	temp := memoryAt("temp", []float32{1, 0, 0, 0}, 0.5, now)
	temp.ExpiresAt = &soon
	f.seed(t, temp, memoryAt("keep", []float32{1, 0, 0, 0}, 0.5, now))

	n, err := f.manager.PurgeExpired(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.manager.PurgeExpired(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok := f.store.Get("temp")
	assert.False(t, ok)
	assert.Equal(t, 1, f.store.Len())
}

// =============================================================================
// ⏰ 调度器
// =============================================================================

func TestDecayScheduler_RunOnce(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	past := now.Add(-time.Minute)

	a2 := memoryAt("a2", []float32{1, 0, 0, 0}, 0.6, now)
	a2.AgentID = "agent-2"
	old := memoryAt("old", []float32{1, 0, 0, 0}, 0.6, now)
	old.ExpiresAt = &past
	f.seed(t, memoryAt("a1", []float32{1, 0, 0, 0}, 0.8, now), a2, old)

	s := memory.NewDecayScheduler(f.manager, f.store, time.Hour, 0.5, nil)
	decayed, purged, err := s.RunOnce(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), decayed)
	assert.Equal(t, int64(1), purged)

	m, _ := f.store.Get("a2")
	assert.InDelta(t, 0.3, m.Salience, 1e-9)
}

func TestDecayScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, memoryAt("m", []float32{1, 0, 0, 0}, 0.8, f.clock.Now()))

	s := memory.NewDecayScheduler(f.manager, f.store, 10*time.Millisecond, 0.5, nil)
	require.NoError(t, s.Start(testutil.TestContext(t)))
	assert.Error(t, s.Start(testutil.TestContext(t)))

	testutil.AssertEventuallyTrue(t, func() bool {
		m, _ := f.store.Get("m")
		return m.Salience < 0.8
	}, time.Second)

	s.Stop()
	s.Stop()
}

func TestDecayScheduler_RejectsZeroInterval(t *testing.T) {
	f := newFixture(t)
	s := memory.NewDecayScheduler(f.manager, f.store, 0, 0.5, nil)
	assert.Error(t, s.Start(context.Background()))
}
