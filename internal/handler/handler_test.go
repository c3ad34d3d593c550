package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Shared test helpers
// =============================================================================

// asProfile stands in for the bearer auth middleware.
func asProfile(p *domain.Profile) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p == nil {
				testResponder().Unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.SetProfile(r.Context(), p)))
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// blockAll rejects every request the way the premium gate does.
func blockAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testResponder().Error(w, r, domain.UpgradeRequired("", "This feature needs a premium plan"))
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func newParent() *domain.Profile {
	return &domain.Profile{ID: uuid.New(), Role: domain.RoleParent, Email: "pat@example.com", DisplayName: "Pat"}
}

func newStudent(parent *domain.Profile) *domain.Profile {
	grade := 5
	return &domain.Profile{ID: uuid.New(), Role: domain.RoleStudent, ParentID: &parent.ID, DisplayName: "Riley", GradeLevel: &grade}
}

// fakeProfiles resolves actors from a fixed set of students. Other methods
// panic through the nil embedded interface.
type fakeProfiles struct {
	service.ProfileService
	students map[uuid.UUID]*domain.Profile
}

func (f *fakeProfiles) ResolveActor(_ context.Context, caller *domain.Profile, targetID uuid.UUID) (*domain.Profile, error) {
	if targetID == caller.ID {
		return caller, nil
	}
	s, ok := f.students[targetID]
	if !ok || !s.ManagedBy(caller.ID) {
		return nil, domain.Forbidden("ProfileService.ResolveActor", "You cannot act as this profile")
	}
	return s, nil
}
