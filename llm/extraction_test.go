package llm_test

import (
	"testing"

	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/testutil/mocks"
	"github.com/BaSui01/companion/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryCandidates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []types.MemoryCandidate
	}{
		{
			name: "object payload",
			raw:  `{"memories":[{"content":"Lives in Oslo","type":"fact","confidence":0.9}]}`,
			want: []types.MemoryCandidate{{Content: "Lives in Oslo", Kind: types.MemoryFact, Confidence: 0.9}},
		},
		{
			name: "bare array with expiry",
			raw:  `[{"content":"Has an exam","type":"EVENT","confidence":0.8,"expires_in":"2 days"}]`,
			want: []types.MemoryCandidate{{Content: "Has an exam", Kind: types.MemoryEvent, Confidence: 0.8, ExpiresIn: "2 days"}},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"memories\":[{\"content\":\"Likes tea\",\"type\":\"PREFERENCE\",\"confidence\":1.4}]}\n```",
			want: []types.MemoryCandidate{{Content: "Likes tea", Kind: types.MemoryPreference, Confidence: 1}},
		},
		{
			name: "prose around json",
			raw:  `Sure! {"memories":[{"content":"Feels anxious","type":"EMOTION","confidence":0.7}]} hope that helps`,
			want: []types.MemoryCandidate{{Content: "Feels anxious", Kind: types.MemoryEmotion, Confidence: 0.7}},
		},
		{
			name: "unknown kind and empty content dropped",
			raw:  `{"memories":[{"content":"x","type":"GOSSIP","confidence":0.9},{"content":" ","type":"FACT","confidence":0.9}]}`,
			want: []types.MemoryCandidate{},
		},
		{name: "malformed", raw: `{"memories":[{"content":`, want: nil},
		{name: "plain text", raw: `nothing to remember`, want: nil},
		{name: "empty", raw: ``, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ParseMemoryCandidates(tt.raw))
		})
	}
}

func TestClient_ExtractMemoryCandidates(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithResponse(`{"memories":[{"content":"Has a dog named Rex","type":"FACT","confidence":0.95}]}`)
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	turns := []types.ChatMessage{
		{Speaker: types.SpeakerUser, Content: "My dog Rex is sick"},
		{Speaker: types.SpeakerAgent, Content: "Oh no, I hope Rex feels better"},
	}
	got, err := client.ExtractMemoryCandidates(testutil.TestContext(t), turns)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Has a dog named Rex", got[0].Content)

	req := provider.LastRequest()
	assert.Equal(t, "test-extract", req.Model)
	assert.Equal(t, llm.ResponseFormatJSONObject, req.ResponseFormat)
	assert.Contains(t, req.Messages[1].Content, "user: My dog Rex is sick")
}

func TestClient_ExtractMemoryCandidates_MalformedIsEmpty(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse(`not json at all`)
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	got, err := client.ExtractMemoryCandidates(testutil.TestContext(t), []types.ChatMessage{{Speaker: types.SpeakerUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, provider.CallCount(), "extraction is never retried")
}

func TestClient_ExtractMemoryCandidates_UpstreamFailure(t *testing.T) {
	provider := mocks.NewMockProvider().WithFailFirst(1)
	client := newTestClient(t, provider, mocks.NewMockEmbedder(4), mocks.NewMockClassifier())

	_, err := client.ExtractMemoryCandidates(testutil.TestContext(t), []types.ChatMessage{{Speaker: types.SpeakerUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMemoryExtractionFailed))
	assert.Equal(t, 1, provider.CallCount())
}
