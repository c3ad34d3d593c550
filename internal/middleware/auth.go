// Package middleware contains HTTP middleware for the BestTutorEver API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/handler"
	"github.com/google/uuid"
)

// =============================================================================
// Dependencies
// =============================================================================

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// ProfileResolver maps identity provider users to profiles.
type ProfileResolver interface {
	EnsureProfile(ctx context.Context, authUserID, email, name string) (*domain.Profile, error)
	ResolveActor(ctx context.Context, caller *domain.Profile, targetID uuid.UUID) (*domain.Profile, error)
}

// SubscriptionReader returns a profile's effective subscription.
type SubscriptionReader interface {
	GetStatus(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error)
}

// QuotaChecker enforces the free-tier monthly AI allowance.
type QuotaChecker interface {
	CheckAIQuota(ctx context.Context, profileID uuid.UUID, sub *domain.Subscription) error
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware authenticates API requests and gates premium features.
//
// Create one instance and use its methods as middleware.
type AuthMiddleware struct {
	tokens        TokenParser
	profiles      ProfileResolver
	subscriptions SubscriptionReader
	quota         QuotaChecker
	responder     *handler.Responder
	logger        *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(
	tokens TokenParser,
	profiles ProfileResolver,
	subscriptions SubscriptionReader,
	quota QuotaChecker,
	responder *handler.Responder,
	logger *slog.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:        tokens,
		profiles:      profiles,
		subscriptions: subscriptions,
		quota:         quota,
		responder:     responder,
		logger:        logger,
	}
}

// RequireAuth verifies the bearer token and loads the caller's profile into
// the request context. The first request of a new user creates their
// profile.
//
// Flow:
//
//	Request -> RequireAuth -> Handler
//	           |
//	           +-> Read Authorization header
//	           +-> Verify signature, expiry and subject
//	           +-> EnsureProfile(sub, email, name)
//	           +-> Set profile in context
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			m.responder.Unauthorized(w, r)
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			m.logger.InfoContext(r.Context(), "rejected bearer token", "error", err, "path", r.URL.Path)
			m.responder.Error(w, r, domain.Unauthorized("", "Invalid or expired token"))
			return
		}

		profile, err := m.profiles.EnsureProfile(r.Context(), claims.Subject, claims.Email, claims.DisplayName())
		if err != nil {
			m.responder.Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetProfile(r.Context(), profile)))
	})
}

// RequirePremium rejects profiles without a premium subscription with
// EUPGRADE. Use it after RequireAuth.
func (m *AuthMiddleware) RequirePremium(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, sub, err := m.subscription(r)
		if err != nil {
			m.responder.Error(w, r, err)
			return
		}
		if !sub.IsPremium() {
			m.logger.InfoContext(r.Context(), "premium feature blocked", "profile_id", p.ID, "path", r.URL.Path)
			m.responder.Error(w, r, domain.UpgradeRequired("", "This feature needs a premium plan"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAIQuota rejects free profiles that used up this month's AI
// requests. Premium profiles always pass. Use it after RequireAuth.
func (m *AuthMiddleware) RequireAIQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, sub, err := m.subscription(r)
		if err != nil {
			m.responder.Error(w, r, err)
			return
		}
		if err := m.quota.CheckAIQuota(r.Context(), p.ID, sub); err != nil {
			m.responder.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subscription returns the acting profile and its effective subscription.
// A parent acting as a student via ?profile_id= is checked as the student.
func (m *AuthMiddleware) subscription(r *http.Request) (*domain.Profile, *domain.Subscription, error) {
	p := auth.GetProfileFromRequest(r)
	if p == nil {
		m.logger.ErrorContext(r.Context(), "subscription check without profile in context", "path", r.URL.Path)
		return nil, nil, domain.Unauthorized("", "Authentication required")
	}

	if raw := r.URL.Query().Get("profile_id"); raw != "" {
		target, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, domain.NewValidationError("", "profile_id", "Must be a valid ID")
		}
		if p, err = m.profiles.ResolveActor(r.Context(), p, target); err != nil {
			return nil, nil, err
		}
	}

	sub, err := m.subscriptions.GetStatus(r.Context(), p.ID)
	if err != nil {
		return nil, nil, err
	}
	return p, sub, nil
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	premium := Stack(authMw.RequireAuth, authMw.RequirePremium)
//	mux.Handle("POST /api/learning-path", premium(learningPathHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireAuth
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequirePremium
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireAIQuota
)
