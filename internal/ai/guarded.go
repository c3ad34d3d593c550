package ai

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/cache"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
)

// Guarded runs provider calls through the limiter registry and, for
// requests that set CacheTTL, a response cache.
type Guarded struct {
	next     Generator
	speech   SpeechSynthesizer
	limiters *ratelimit.Registry
	cache    cache.Cache
	logger   *slog.Logger
}

var (
	_ Generator         = (*Guarded)(nil)
	_ SpeechSynthesizer = (*Guarded)(nil)
	_ ResultObserver    = (*Guarded)(nil)
)

// NewGuarded decorates next. speech and c may be nil.
func NewGuarded(next Generator, speech SpeechSynthesizer, limiters *ratelimit.Registry, c cache.Cache, logger *slog.Logger) *Guarded {
	return &Guarded{
		next:     next,
		speech:   speech,
		limiters: limiters,
		cache:    c,
		logger:   logger.With("component", "ai"),
	}
}

// Generate serves cached responses first, then calls the provider under the
// request's limiter profile. Fresh replies are cached by ObserveResult.
func (g *Guarded) Generate(ctx context.Context, req Request) (*Response, error) {
	key := g.cacheKey(req)
	if key != "" {
		if cached, ok := cache.GetJSON[Response](ctx, g.cache, key); ok {
			cached.Usage.CacheHit = true
			cached.Usage.Duration = 0
			return &cached, nil
		}
	}

	profile := req.Limit
	if profile == "" {
		profile = ratelimit.ProfileDefault
	}

	resp, err := ratelimit.Do(ctx, g.limiters.Get(profile), func(ctx context.Context) (*Response, error) {
		return g.next.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ObserveResult caches a reply once it has validated. Replies that failed
// validation are never cached.
func (g *Guarded) ObserveResult(ctx context.Context, req Request, resp *Response, err error) {
	if obs, ok := g.next.(ResultObserver); ok {
		obs.ObserveResult(ctx, req, resp, err)
	}
	if err != nil || resp == nil || resp.Usage.CacheHit {
		return
	}
	key := g.cacheKey(req)
	if key == "" {
		return
	}
	if err := cache.SetJSON(ctx, g.cache, key, resp, req.CacheTTL); err != nil {
		g.logger.WarnContext(ctx, "failed to cache ai response", "flow", req.Flow, "error", err)
	}
}

// Synthesize always runs under the expensive limiter.
func (g *Guarded) Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error) {
	if g.speech == nil {
		return nil, &ProviderError{Provider: "speech", Message: "no speech provider configured", Err: EAIUnavailable}
	}
	return ratelimit.Do(ctx, g.limiters.Get(ratelimit.ProfileExpensive), func(ctx context.Context) (*Speech, error) {
		return g.speech.Synthesize(ctx, req)
	})
}

func (g *Guarded) cacheKey(req Request) string {
	if g.cache == nil || req.CacheTTL <= 0 {
		return ""
	}
	key, err := cache.HashKey("ai:"+req.Flow, req)
	if err != nil {
		return ""
	}
	return key
}

