package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// maxJSONBody caps request bodies; notes are the largest payloads.
const maxJSONBody = 1 << 20

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ETOOLARGE, op, "Request body must be at most %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "Request body is required")
		default:
			return domain.Invalid(op, fmt.Sprintf("Malformed JSON: %v", err))
		}
	}
	return nil
}

// pathUUID parses a UUID path value.
func pathUUID(r *http.Request, op, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(op, name, "Must be a valid ID")
	}
	return id, nil
}

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(r *http.Request, op, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(op, name, "Must be a non-negative number")
	}
	return n, nil
}

// caller returns the authenticated profile. Routes behind the bearer auth
// middleware always have one.
func caller(r *http.Request) (*domain.Profile, error) {
	p := auth.GetProfileFromRequest(r)
	if p == nil {
		return nil, domain.Unauthorized("", "Authentication required")
	}
	return p, nil
}

// actorResolver picks the profile a request acts as.
type actorResolver interface {
	ResolveActor(ctx context.Context, caller *domain.Profile, targetID uuid.UUID) (*domain.Profile, error)
}

// actor returns the profile named by ?profile_id=, which a parent may set
// to act as one of their students, or the caller.
func actor(r *http.Request, profiles actorResolver) (*domain.Profile, error) {
	const op = "handler.actor"

	p, err := caller(r)
	if err != nil {
		return nil, err
	}
	raw := r.URL.Query().Get("profile_id")
	if raw == "" {
		return p, nil
	}
	target, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.NewValidationError(op, "profile_id", "Must be a valid ID")
	}
	return profiles.ResolveActor(r.Context(), p, target)
}

// requireParent rejects student callers.
func requireParent(r *http.Request, op string) (*domain.Profile, error) {
	p, err := caller(r)
	if err != nil {
		return nil, err
	}
	if !p.IsParent() {
		return nil, domain.Forbidden(op, "Only parent accounts can do this")
	}
	return p, nil
}
