package ai_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/ai/mock"
	"github.com/DukeRupert/besttutor/internal/cache"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jokeOutput struct {
	Setup     string `json:"setup" validate:"required"`
	Punchline string `json:"punchline" validate:"required"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jokeRequest() ai.Request {
	return ai.Request{
		Flow:     "joke",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "tell me a joke"}},
		Schema:   ai.Schema{Name: "joke"},
	}
}

// =============================================================================
// GenerateStructured
// =============================================================================

func TestGenerateStructured(t *testing.T) {
	v := validator.New(validator.WithRequiredStructEnabled())
	ctx := context.Background()

	t.Run("decodes and validates", func(t *testing.T) {
		p := mock.New(discardLogger())
		p.SetResponse("joke", "```json\n{\"setup\":\"a\",\"punchline\":\"b\"}\n```")

		out, usage, err := ai.GenerateStructured[jokeOutput](ctx, p, v, jokeRequest())
		require.NoError(t, err)
		assert.Equal(t, "a", out.Setup)
		assert.Equal(t, "b", out.Punchline)
		assert.Equal(t, mock.ProviderName, usage.Provider)
	})

	t.Run("malformed json is a schema error", func(t *testing.T) {
		p := mock.New(discardLogger())
		p.SetResponse("joke", "not json at all")

		_, _, err := ai.GenerateStructured[jokeOutput](ctx, p, v, jokeRequest())
		var schemaErr *ai.SchemaValidationError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, "joke", schemaErr.Schema)
	})

	t.Run("missing field fails validation", func(t *testing.T) {
		p := mock.New(discardLogger())
		p.SetResponse("joke", `{"setup":"only a setup"}`)

		_, _, err := ai.GenerateStructured[jokeOutput](ctx, p, v, jokeRequest())
		var schemaErr *ai.SchemaValidationError
		require.ErrorAs(t, err, &schemaErr)
		require.Len(t, schemaErr.Fields, 1)
		assert.Contains(t, schemaErr.Fields[0], "Punchline")
	})

	t.Run("provider failure passes through", func(t *testing.T) {
		p := mock.New(discardLogger())
		p.GenerateError = &ai.ProviderError{Provider: "mock", Err: ai.EAIUnavailable}

		_, _, err := ai.GenerateStructured[jokeOutput](ctx, p, v, jokeRequest())
		var provErr *ai.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.True(t, ai.IsRetryable(err))
		assert.Equal(t, "unavailable", ai.ErrorCode(err))
	})
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                       `{"a":1}`,
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"Here you go: {\"a\":1} enjoy!": `{"a":1}`,
		"[1,2,3]":                       "[1,2,3]",
		"plain":                         "plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, ai.ExtractJSON(in), in)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, ai.IsRetryable(&ai.ProviderError{Err: ai.EAIRateLimit}))
	assert.True(t, ai.IsRetryable(ai.EAITimeout))
	assert.False(t, ai.IsRetryable(ai.EAIUnauthorized))
	assert.False(t, ai.IsRetryable(&ai.ProviderError{Err: ai.EAIBadRequest}))
	assert.False(t, ai.IsRetryable(errors.New("boom")))
}

// =============================================================================
// Guarded
// =============================================================================

func newRegistry(t *testing.T, points int) *ratelimit.Registry {
	t.Helper()
	reg, err := ratelimit.NewRegistry(map[ratelimit.Profile]ratelimit.Config{
		ratelimit.ProfileDefault:   {Concurrency: 2, Points: points, Window: time.Minute},
		ratelimit.ProfileExpensive: {Concurrency: 1, Points: 1, Window: time.Minute},
	}, ratelimit.NewMemoryStore(), discardLogger())
	require.NoError(t, err)
	return reg
}

func TestGuarded_CachesWhenTTLSet(t *testing.T) {
	p := mock.New(discardLogger())
	p.SetResponse("joke", `{"setup":"a","punchline":"b"}`)
	g := ai.NewGuarded(p, p, newRegistry(t, 10), cache.NewMemory(10), discardLogger())
	v := validator.New(validator.WithRequiredStructEnabled())
	ctx := context.Background()

	req := jokeRequest()
	req.CacheTTL = time.Hour

	first, usage, err := ai.GenerateStructured[jokeOutput](ctx, g, v, req)
	require.NoError(t, err)
	assert.False(t, usage.CacheHit)

	second, usage, err := ai.GenerateStructured[jokeOutput](ctx, g, v, req)
	require.NoError(t, err)
	assert.True(t, usage.CacheHit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.Calls())
}

func TestGuarded_DoesNotCacheInvalidReplies(t *testing.T) {
	p := mock.New(discardLogger())
	p.SetResponse("joke", `{"setup":"","punchline":""}`)
	g := ai.NewGuarded(p, p, newRegistry(t, 10), cache.NewMemory(10), discardLogger())
	v := validator.New(validator.WithRequiredStructEnabled())
	ctx := context.Background()

	req := jokeRequest()
	req.CacheTTL = time.Hour

	_, _, err := ai.GenerateStructured[jokeOutput](ctx, g, v, req)
	var schemaErr *ai.SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)

	// The provider recovers; the next call reaches it instead of the cache.
	p.SetResponse("joke", `{"setup":"a","punchline":"b"}`)
	out, usage, err := ai.GenerateStructured[jokeOutput](ctx, g, v, req)
	require.NoError(t, err)
	assert.False(t, usage.CacheHit)
	assert.Equal(t, "a", out.Setup)
	assert.Equal(t, 2, p.Calls())

	_, usage, err = ai.GenerateStructured[jokeOutput](ctx, g, v, req)
	require.NoError(t, err)
	assert.True(t, usage.CacheHit)
	assert.Equal(t, 2, p.Calls())
}

func TestGuarded_NoCacheWithoutTTL(t *testing.T) {
	p := mock.New(discardLogger())
	g := ai.NewGuarded(p, nil, newRegistry(t, 10), cache.NewMemory(10), discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Generate(ctx, jokeRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Calls())
}

func TestGuarded_RateLimited(t *testing.T) {
	p := mock.New(discardLogger())
	g := ai.NewGuarded(p, p, newRegistry(t, 2), nil, discardLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Generate(ctx, jokeRequest())
		require.NoError(t, err)
	}

	_, err := g.Generate(ctx, jokeRequest())
	require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
	assert.Equal(t, "rate_limited", ai.ErrorCode(err))
	assert.Equal(t, 2, p.Calls())
}

func TestGuarded_SpeechUsesExpensiveLimiter(t *testing.T) {
	p := mock.New(discardLogger())
	g := ai.NewGuarded(p, p, newRegistry(t, 10), nil, discardLogger())
	ctx := context.Background()

	speech, err := g.Synthesize(ctx, ai.SpeechRequest{Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, speech.Audio)

	_, err = g.Synthesize(ctx, ai.SpeechRequest{Text: "again"})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
}

func TestGuarded_NoSpeechProvider(t *testing.T) {
	g := ai.NewGuarded(mock.New(discardLogger()), nil, newRegistry(t, 10), nil, discardLogger())
	_, err := g.Synthesize(context.Background(), ai.SpeechRequest{Text: "hello"})
	assert.ErrorIs(t, err, ai.EAIUnavailable)
}
