package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/testutil"
	"github.com/BaSui01/companion/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

// classifierAdapter 让 MockClassifier 满足 Classifier
type classifierAdapter struct{ *mocks.MockClassifier }

func (a classifierAdapter) ClassifySafety(ctx context.Context, text string) (*llm.SafetyVerdict, error) {
	return a.Classify(ctx, text)
}

func newTestModerator(t *testing.T, cfg config.ModerationConfig, c *mocks.MockClassifier) *Moderator {
	t.Helper()
	return NewModerator(cfg, classifierAdapter{c}, nil, zaptest.NewLogger(t))
}

func TestModerator_BlocklistAnyCase(t *testing.T) {
	classifier := mocks.NewMockClassifier()
	m := newTestModerator(t, config.ModerationConfig{Blocklist: []string{"BadWord"}}, classifier)
	ctx := testutil.TestContext(t)

	for _, text := range []string{"badword", "this has a BADWORD inside", "xBaDwOrDx"} {
		res := m.Moderate(ctx, text)
		assert.False(t, res.Safe, text)
		assert.Equal(t, ReasonBlocklist, res.Reason)
	}
	assert.Equal(t, 0, classifier.Calls(), "blocklist hits must not reach the classifier")
}

func TestModerator_ClassifierFlags(t *testing.T) {
	classifier := mocks.NewMockClassifier().Flag("you are awful")
	m := newTestModerator(t, config.ModerationConfig{}, classifier)
	ctx := testutil.TestContext(t)

	res := m.Moderate(ctx, "you are awful")
	assert.False(t, res.Safe)
	assert.Equal(t, ReasonClassifier, res.Reason)
	assert.Equal(t, []string{"harassment"}, res.Categories)

	assert.True(t, m.Moderate(ctx, "you are lovely").Safe)
}

func TestModerator_ClassifierFailure(t *testing.T) {
	ctx := testutil.TestContext(t)

	t.Run("fails closed by default", func(t *testing.T) {
		m := newTestModerator(t, config.ModerationConfig{}, mocks.NewMockClassifier().WithError(errors.New("down")))
		res := m.Moderate(ctx, "hello")
		assert.False(t, res.Safe)
		assert.Equal(t, ReasonUnavailable, res.Reason)
	})

	t.Run("fails open when configured", func(t *testing.T) {
		m := newTestModerator(t, config.ModerationConfig{FailOpen: true}, mocks.NewMockClassifier().WithError(errors.New("down")))
		assert.True(t, m.Moderate(ctx, "hello").Safe)
	})
}

func TestModerator_EmptyTextIsSafe(t *testing.T) {
	classifier := mocks.NewMockClassifier()
	m := newTestModerator(t, config.ModerationConfig{Blocklist: []string{"x"}}, classifier)

	assert.True(t, m.Moderate(testutil.TestContext(t), "   ").Safe)
	assert.Equal(t, 0, classifier.Calls())
}

func TestModerator_NilClassifier(t *testing.T) {
	m := NewModerator(config.ModerationConfig{Blocklist: []string{"spam"}}, nil, nil, nil)
	ctx := testutil.TestContext(t)

	assert.True(t, m.Moderate(ctx, "hello").Safe)
	assert.False(t, m.Moderate(ctx, "SPAM!").Safe)
}

func TestModerator_BlocklistMutation(t *testing.T) {
	m := newTestModerator(t, config.ModerationConfig{}, mocks.NewMockClassifier())
	ctx := testutil.TestContext(t)

	m.AddToBlocklist(" Foo ", "", "bar")
	assert.Equal(t, []string{"bar", "foo"}, m.Blocklist())
	assert.False(t, m.Moderate(ctx, "FOO").Safe)

	m.RemoveFromBlocklist("FOO")
	assert.True(t, m.Moderate(ctx, "FOO").Safe)
	assert.Equal(t, []string{"bar"}, m.Blocklist())
}

func TestModerator_ConcurrentAccess(t *testing.T) {
	m := newTestModerator(t, config.ModerationConfig{}, mocks.NewMockClassifier())
	ctx := testutil.TestContext(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.AddToBlocklist("term")
			m.RemoveFromBlocklist("term")
		}()
		go func() {
			defer wg.Done()
			_ = m.Moderate(ctx, "some term here")
		}()
	}
	wg.Wait()
}

// 任何包含屏蔽词的文本（任意大小写变换）都会被拒绝
func TestModerator_Property_BlockedTermAlwaysRejected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		term := rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "term")
		prefix := rapid.StringMatching(`[ a-z0-9]{0,10}`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`[ a-z0-9]{0,10}`).Draw(rt, "suffix")
		upper := rapid.SliceOfN(rapid.Bool(), len(term), len(term)).Draw(rt, "upper")

		cased := []rune(term)
		for i, up := range upper {
			if up {
				cased[i] = []rune(strings.ToUpper(string(cased[i])))[0]
			}
		}

		m := NewModerator(config.ModerationConfig{Blocklist: []string{term}}, nil, nil, nil)
		res := m.Moderate(context.Background(), prefix+string(cased)+suffix)
		if res.Safe {
			rt.Fatalf("text containing %q was allowed", term)
		}
	})
}
