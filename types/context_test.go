package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	_, ok := TraceID(ctx)
	assert.False(t, ok)

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithAgentID(ctx, "agent-1")

	v, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", v)

	v, ok = UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", v)

	v, ok = AgentID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "agent-1", v)

	_, ok = UserID(WithUserID(context.Background(), ""))
	assert.False(t, ok)
}

func TestMoodClamp(t *testing.T) {
	m := Mood{Valence: -3, Arousal: 1.5, Dominance: -0.2}.Clamp()
	assert.Equal(t, Mood{Valence: -1, Arousal: 1, Dominance: 0}, m)
}

func TestChatMessageModelRole(t *testing.T) {
	assert.Equal(t, RoleUser, ChatMessage{Speaker: SpeakerUser}.ModelRole())
	assert.Equal(t, RoleAssistant, ChatMessage{Speaker: SpeakerAgent}.ModelRole())
}
