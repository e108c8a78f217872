package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/llm"
	"github.com/insightloop/insight-engine/pkg/models"
)

func newTestSuggestionEngine(assist llm.Client) *SuggestionEngine {
	cfg := config.SuggestionConfig{MaxSuggestions: 8, LLMMinChars: 3}
	return NewSuggestionEngine(newTestMatcher(), assist, time.Second, cfg, zap.NewNop())
}

func TestSuggestEmptyInput(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestSuggestionEngine(mock)
	index := salesIndex(1)

	suggestions := e.Suggest(context.Background(), index, "", 4, true)

	require.NotEmpty(t, suggestions)
	assert.LessOrEqual(t, len(suggestions), 4)
	for _, s := range suggestions {
		assert.Equal(t, models.SuggestionTypeQuery, s.Type)
		assert.NotEmpty(t, s.Text)
		assert.NotEmpty(t, s.Icon)
	}
	assert.Equal(t, int64(0), mock.GenerateResponseCalls.Load(), "empty input must not call the LLM")
}

func TestSuggestShortInputSkipsLLM(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestSuggestionEngine(mock)
	index := salesIndex(1)

	suggestions := e.Suggest(context.Background(), index, "re", 8, true)

	require.NotEmpty(t, suggestions)
	assert.Equal(t, int64(0), mock.GenerateResponseCalls.Load(), "input below the threshold must not call the LLM")

	// Prefix matches on the vocabulary come back first.
	assert.Equal(t, "revenue", suggestions[0].Text)
}

func TestSuggestIndexMatches(t *testing.T) {
	e := newTestSuggestionEngine(nil)
	index := salesIndex(1)

	t.Run("prefix match", func(t *testing.T) {
		suggestions := e.Suggest(context.Background(), index, "total reve", 8, false)
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "revenue", suggestions[0].Text)
		assert.Equal(t, models.SuggestionTypeMetric, suggestions[0].Type)
	})

	t.Run("fuzzy match when no prefix hits", func(t *testing.T) {
		suggestions := e.Suggest(context.Background(), index, "rgion", 8, false)
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "region", suggestions[0].Text)
	})

	t.Run("table suggestion", func(t *testing.T) {
		suggestions := e.Suggest(context.Background(), index, "sal", 8, false)
		require.NotEmpty(t, suggestions)
		assert.Equal(t, models.SuggestionTypeQuery, suggestions[0].Type)
	})

	t.Run("bound stays respected", func(t *testing.T) {
		suggestions := e.Suggest(context.Background(), index, "a", 2, false)
		assert.LessOrEqual(t, len(suggestions), 2)
	})

	t.Run("omitted max falls back to the configured default", func(t *testing.T) {
		suggestions := e.Suggest(context.Background(), index, "revenue", 0, false)
		require.NotEmpty(t, suggestions)
		assert.LessOrEqual(t, len(suggestions), 8)
	})

	t.Run("omitted max still serves the example tier", func(t *testing.T) {
		small := NewSuggestionEngine(newTestMatcher(), nil, time.Second,
			config.SuggestionConfig{MaxSuggestions: 2, LLMMinChars: 3}, zap.NewNop())
		suggestions := small.Suggest(context.Background(), index, "", 0, false)
		require.NotEmpty(t, suggestions)
		assert.LessOrEqual(t, len(suggestions), 2)
	})
}

func TestSuggestLLMTier(t *testing.T) {
	index := salesIndex(1)

	t.Run("completions from the model", func(t *testing.T) {
		mock := llm.NewMockClient()
		mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
			return "total revenue by agent\ntotal revenue by region\n", nil
		}
		e := newTestSuggestionEngine(mock)

		suggestions := e.Suggest(context.Background(), index, "total rev", 8, true)
		require.Len(t, suggestions, 2)
		assert.Equal(t, "total revenue by agent", suggestions[0].Text)
		assert.Equal(t, models.SuggestionTypeComplete, suggestions[0].Type)
		assert.Equal(t, int64(1), mock.GenerateResponseCalls.Load())
	})

	t.Run("falls back to index matching on failure", func(t *testing.T) {
		mock := llm.NewMockClient()
		mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
			return "", errors.New("upstream timeout")
		}
		e := newTestSuggestionEngine(mock)

		suggestions := e.Suggest(context.Background(), index, "total reve", 8, true)
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "revenue", suggestions[0].Text)
	})

	t.Run("useLLM false never calls the model", func(t *testing.T) {
		mock := llm.NewMockClient()
		e := newTestSuggestionEngine(mock)

		e.Suggest(context.Background(), index, "total revenue by region this", 8, false)
		assert.Equal(t, int64(0), mock.GenerateResponseCalls.Load())
	})

	t.Run("model output is capped", func(t *testing.T) {
		mock := llm.NewMockClient()
		mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
			return "a\nb\nc\nd\ne\nf\ng\nh\ni\nj", nil
		}
		e := newTestSuggestionEngine(mock)

		suggestions := e.Suggest(context.Background(), index, "total rev", 3, true)
		assert.Len(t, suggestions, 3)
	})
}
