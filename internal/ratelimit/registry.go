package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Profile names a limiter configuration.
type Profile string

const (
	// ProfileDefault guards ordinary generation calls.
	ProfileDefault Profile = "default"
	// ProfileExpensive guards speech synthesis and learning paths.
	ProfileExpensive Profile = "expensive"
)

// DefaultConfigs returns the built-in profiles.
func DefaultConfigs() map[Profile]Config {
	return map[Profile]Config{
		ProfileDefault: {
			Name:        string(ProfileDefault),
			Concurrency: 10,
			Points:      60,
			Window:      time.Minute,
		},
		ProfileExpensive: {
			Name:        string(ProfileExpensive),
			Concurrency: 1,
			Points:      5,
			Window:      time.Minute,
		},
	}
}

// Registry holds one limiter per profile. It is built once in main and
// never reconfigured.
type Registry struct {
	limiters map[Profile]*Limiter
}

// NewRegistry builds a limiter for every profile in configs over a shared store.
func NewRegistry(configs map[Profile]Config, store Store, logger *slog.Logger) (*Registry, error) {
	r := &Registry{limiters: make(map[Profile]*Limiter, len(configs))}
	for profile, cfg := range configs {
		if cfg.Name == "" {
			cfg.Name = string(profile)
		}
		l, err := New(cfg, store, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s limiter: %w", profile, err)
		}
		r.limiters[profile] = l
	}
	if _, ok := r.limiters[ProfileDefault]; !ok {
		return nil, fmt.Errorf("the %s limiter profile is required", ProfileDefault)
	}
	return r, nil
}

// Get returns the limiter for profile, falling back to the default profile.
func (r *Registry) Get(profile Profile) *Limiter {
	if l, ok := r.limiters[profile]; ok {
		return l
	}
	return r.limiters[ProfileDefault]
}

// Status reports every limiter, sorted by name.
func (r *Registry) Status(ctx context.Context) []Status {
	out := make([]Status, 0, len(r.limiters))
	for _, l := range r.limiters {
		out = append(out, l.Status(ctx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
