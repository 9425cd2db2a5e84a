package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/llm/tokenizer"
	"github.com/BaSui01/companion/types"
)

func testAgent() types.Agent {
	return types.Agent{
		ID:      "agent-1",
		Name:    "Mira",
		Persona: "You are {{name}}, a warm companion. {{name}} loves tea.",
		Traits:  map[string]float64{"warmth": 0.9, "curiosity": 0.7, "humor": 0.5},
		Mood:    types.Mood{Valence: 0.8, Arousal: 0.2, Dominance: 0.5},
		Energy:  0.5,
	}
}

func newTestAssembler(limit, budget int) *Assembler {
	return NewAssembler(config.PromptConfig{HistoryLimit: limit, HistoryTokenBudget: budget},
		tokenizer.NewEstimatorTokenizer(), nil)
}

func history(contents ...string) []types.ChatMessage {
	out := make([]types.ChatMessage, len(contents))
	for i, c := range contents {
		speaker := types.SpeakerUser
		if i%2 == 1 {
			speaker = types.SpeakerAgent
		}
		out[i] = types.ChatMessage{Speaker: speaker, Content: c}
	}
	return out
}

func TestBuildMessages_Ordering(t *testing.T) {
	a := newTestAssembler(10, 0)
	actx := types.AgentContext{
		Agent:    testAgent(),
		History:  history("hi", "hello!"),
		Memories: []types.Memory{{Kind: types.MemoryPreference, Content: "likes oolong"}},
	}

	msgs := a.BuildMessages(actx, "what should I drink?")
	require.Len(t, msgs, 5)

	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are Mira, a warm companion. Mira loves tea.")
	assert.NotContains(t, msgs[0].Content, "{{name}}")
	assert.Contains(t, msgs[0].Content, "Current mood: positive, calm, balanced")
	assert.Contains(t, msgs[0].Content, "Energy: moderate")

	assert.Equal(t, types.RoleSystem, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "What you remember"))
	assert.Contains(t, msgs[1].Content, "- [preference] likes oolong")

	assert.Equal(t, types.RoleUser, msgs[2].Role)
	assert.Equal(t, "hi", msgs[2].Content)
	assert.Equal(t, types.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "hello!", msgs[3].Content)

	assert.Equal(t, types.NewUserMessage("what should I drink?"), msgs[4])
}

func TestBuildMessages_NoMemoriesNoSecondSystem(t *testing.T) {
	a := newTestAssembler(10, 0)
	msgs := a.BuildMessages(types.AgentContext{Agent: testAgent()}, "hey")

	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
}

func TestBuildMessages_TraitsSortedByName(t *testing.T) {
	content := RenderPersona(testAgent())

	iCur := strings.Index(content, "curiosity")
	iHum := strings.Index(content, "humor")
	iWar := strings.Index(content, "warmth")
	require.True(t, iCur > 0 && iHum > 0 && iWar > 0)
	assert.Less(t, iCur, iHum)
	assert.Less(t, iHum, iWar)
}

func TestBuildMessages_HistoryCountLimitKeepsNewest(t *testing.T) {
	a := newTestAssembler(2, 0)
	msgs := a.BuildMessages(types.AgentContext{
		Agent:   testAgent(),
		History: history("one", "two", "three", "four"),
	}, "five")

	require.Len(t, msgs, 4)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, "four", msgs[2].Content)
}

func TestBuildMessages_HistoryTokenBudget(t *testing.T) {
	// 已记录 Tokens 的消息直接使用记录值；预算只够最后两条
	h := []types.ChatMessage{
		{Speaker: types.SpeakerUser, Content: "old", Tokens: 10},
		{Speaker: types.SpeakerAgent, Content: "mid", Tokens: 10},
		{Speaker: types.SpeakerUser, Content: "new", Tokens: 10},
	}
	a := newTestAssembler(0, 25)
	msgs := a.BuildMessages(types.AgentContext{Agent: testAgent(), History: h}, "now")

	require.Len(t, msgs, 4)
	assert.Equal(t, "mid", msgs[1].Content)
	assert.Equal(t, "new", msgs[2].Content)
}

func TestDescribeMood(t *testing.T) {
	tests := []struct {
		mood types.Mood
		want string
	}{
		{types.Mood{Valence: 0.7, Arousal: 0.7, Dominance: 0.7}, "positive, energetic, assertive"},
		{types.Mood{Valence: -0.5, Arousal: 0.1, Dominance: 0.1}, "negative, calm, deferential"},
		{types.Mood{Valence: 0.6, Arousal: 0.6, Dominance: 0.6}, "neutral, relaxed, balanced"},
		{types.Mood{Valence: -0.4, Arousal: 0.3, Dominance: 0.3}, "neutral, relaxed, balanced"},
		{types.Mood{Valence: 5, Arousal: -1, Dominance: 2}, "positive, calm, assertive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DescribeMood(tt.mood))
	}
}

func TestDescribeEnergy(t *testing.T) {
	assert.Equal(t, "high", DescribeEnergy(0.9))
	assert.Equal(t, "moderate", DescribeEnergy(0.5))
	assert.Equal(t, "low", DescribeEnergy(0.1))
}

func TestBuildMessages_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(0, 8).Draw(t, "limit")
		n := rapid.IntRange(0, 20).Draw(t, "history")
		withMemories := rapid.Bool().Draw(t, "memories")

		contents := make([]string, n)
		for i := range contents {
			contents[i] = rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "content")
		}
		actx := types.AgentContext{Agent: testAgent(), History: history(contents...)}
		if withMemories {
			actx.Memories = []types.Memory{{Kind: types.MemoryFact, Content: "x"}}
		}

		msgs := newTestAssembler(limit, 0).BuildMessages(actx, "last")

		if msgs[0].Role != types.RoleSystem {
			t.Fatalf("first message must be the persona")
		}
		if last := msgs[len(msgs)-1]; last.Role != types.RoleUser || last.Content != "last" {
			t.Fatalf("current user message must be last")
		}
		kept := len(msgs) - 2
		if withMemories {
			kept--
			if msgs[1].Role != types.RoleSystem {
				t.Fatalf("memories must follow persona")
			}
		}
		want := n
		if limit > 0 && n > limit {
			want = limit
		}
		if kept != want {
			t.Fatalf("kept %d history messages, want %d", kept, want)
		}
	})
}
