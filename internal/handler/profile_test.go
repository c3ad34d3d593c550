package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccounts keeps profiles in memory and checks ownership the way the
// profile service does.
type fakeAccounts struct {
	service.ProfileService
	byID        map[uuid.UUID]*domain.Profile
	sub         *domain.Subscription
	uploadedCT  string
	uploadedLen int
}

func newFakeAccounts(profiles ...*domain.Profile) *fakeAccounts {
	f := &fakeAccounts{
		byID: make(map[uuid.UUID]*domain.Profile),
		sub:  &domain.Subscription{Status: domain.SubscriptionStatusFree},
	}
	for _, p := range profiles {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeAccounts) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, domain.NotFound("ProfileService.GetAccount", "profile", id.String())
	}
	return &domain.Account{Profile: p, Subscription: f.sub}, nil
}

func (f *fakeAccounts) ListStudents(_ context.Context, parentID uuid.UUID) ([]*domain.Profile, error) {
	var out []*domain.Profile
	for _, p := range f.byID {
		if p.ID != parentID && p.ManagedBy(parentID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAccounts) CreateStudent(_ context.Context, params domain.CreateStudentParams) (*domain.Profile, error) {
	if params.DisplayName == "" {
		return nil, domain.NewValidationError("ProfileService.CreateStudent", "display_name", "Name is required")
	}
	p := &domain.Profile{ID: uuid.New(), Role: domain.RoleStudent, ParentID: &params.ParentID, DisplayName: params.DisplayName, GradeLevel: params.GradeLevel}
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeAccounts) owned(op string, actorID, profileID uuid.UUID) (*domain.Profile, error) {
	p, ok := f.byID[profileID]
	if !ok {
		return nil, domain.NotFound(op, "profile", profileID.String())
	}
	if p.ID != actorID && !p.ManagedBy(actorID) {
		return nil, domain.Forbidden(op, "You cannot edit this profile")
	}
	return p, nil
}

func (f *fakeAccounts) UpdateProfile(_ context.Context, actorID, profileID uuid.UUID, params domain.UpdateProfileParams) (*domain.Profile, error) {
	p, err := f.owned("ProfileService.UpdateProfile", actorID, profileID)
	if err != nil {
		return nil, err
	}
	p.DisplayName = params.DisplayName
	p.GradeLevel = params.GradeLevel
	return p, nil
}

func (f *fakeAccounts) UploadAvatar(_ context.Context, actorID, profileID uuid.UUID, contentType string, data io.Reader) (*domain.Profile, error) {
	p, err := f.owned("ProfileService.UploadAvatar", actorID, profileID)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	f.uploadedCT = contentType
	f.uploadedLen = len(b)
	p.AvatarKey = "avatars/" + p.ID.String() + "/thumb.jpg"
	return p, nil
}

func (f *fakeAccounts) AvatarURL(_ context.Context, p *domain.Profile) string {
	if p.AvatarKey == "" {
		return ""
	}
	return "https://files.example.com/" + p.AvatarKey
}

func newProfileMux(caller *domain.Profile, profiles *fakeAccounts, quota fakeQuota) *http.ServeMux {
	mux := http.NewServeMux()
	NewProfileHandler(profiles, quota, testResponder()).RegisterRoutes(mux, asProfile(caller))
	return mux
}

// =============================================================================
// Me
// =============================================================================

func TestProfileHandler_Me(t *testing.T) {
	parent := newParent()
	mux := newProfileMux(parent, newFakeAccounts(parent), fakeQuota{})

	rec := doJSON(t, mux, "GET", "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Profile      profileResponse      `json:"profile"`
		Subscription subscriptionResponse `json:"subscription"`
		Quota        *quotaResponse       `json:"quota"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, parent.ID, body.Profile.ID)
	assert.Equal(t, domain.SubscriptionStatusFree, body.Subscription.Status)
	assert.False(t, body.Subscription.Premium)
	require.NotNil(t, body.Quota)
	assert.Equal(t, int64(4), body.Quota.Used)
	assert.Equal(t, int64(16), body.Quota.Remaining)
}

func TestProfileHandler_MeWithoutQuota(t *testing.T) {
	parent := newParent()
	mux := newProfileMux(parent, newFakeAccounts(parent), fakeQuota{err: errors.New("db down")})

	rec := doJSON(t, mux, "GET", "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"quota"`)
}

func TestProfileHandler_Unauthenticated(t *testing.T) {
	mux := newProfileMux(nil, newFakeAccounts(), fakeQuota{})

	for _, path := range []string{"/api/me", "/api/profiles"} {
		rec := doJSON(t, mux, "GET", path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

// =============================================================================
// Student profiles
// =============================================================================

func TestProfileHandler_CreateAndList(t *testing.T) {
	parent := newParent()
	accounts := newFakeAccounts(parent)
	mux := newProfileMux(parent, accounts, fakeQuota{})

	rec := doJSON(t, mux, "POST", "/api/profiles", map[string]any{"display_name": "Riley", "grade_level": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created profileResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, domain.RoleStudent, created.Role)
	require.NotNil(t, created.ParentID)
	assert.Equal(t, parent.ID, *created.ParentID)

	rec = doJSON(t, mux, "GET", "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Profiles []profileResponse `json:"profiles"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Profiles, 1)
	assert.Equal(t, "Riley", list.Profiles[0].DisplayName)
}

func TestProfileHandler_CreateRejections(t *testing.T) {
	parent := newParent()
	student := newStudent(parent)

	tests := []struct {
		name   string
		caller *domain.Profile
		body   any
		status int
	}{
		{"student cannot add profiles", student, map[string]any{"display_name": "Sam"}, http.StatusForbidden},
		{"missing name", parent, map[string]any{"grade_level": 3}, http.StatusBadRequest},
		{"malformed json", parent, `{"display_name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newProfileMux(tt.caller, newFakeAccounts(parent, student), fakeQuota{})
			rec := doJSON(t, mux, "POST", "/api/profiles", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestProfileHandler_Update(t *testing.T) {
	parent := newParent()
	student := newStudent(parent)
	stranger := newParent()
	accounts := newFakeAccounts(parent, student, stranger)

	rec := doJSON(t, newProfileMux(parent, accounts, fakeQuota{}), "PUT", "/api/profiles/"+student.ID.String(), map[string]any{"display_name": "Riley R.", "grade_level": 6})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Riley R.", student.DisplayName)

	rec = doJSON(t, newProfileMux(stranger, accounts, fakeQuota{}), "PUT", "/api/profiles/"+student.ID.String(), map[string]any{"display_name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, newProfileMux(parent, accounts, fakeQuota{}), "PUT", "/api/profiles/not-a-uuid", map[string]any{"display_name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Avatar upload
// =============================================================================

func avatarRequest(t *testing.T, path, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestProfileHandler_UploadAvatar(t *testing.T) {
	parent := newParent()
	accounts := newFakeAccounts(parent)
	mux := newProfileMux(parent, accounts, fakeQuota{})

	req := avatarRequest(t, "/api/profiles/"+parent.ID.String()+"/avatar", "avatar", "me.png", "application/octet-stream", []byte("\x89PNG fake"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body profileResponse
	decodeBody(t, rec, &body)
	assert.Contains(t, body.AvatarURL, "https://files.example.com/avatars/")
	assert.Equal(t, "image/png", accounts.uploadedCT, "octet-stream falls back to the file extension")
	assert.Equal(t, 9, accounts.uploadedLen)
}

func TestProfileHandler_UploadAvatarRejections(t *testing.T) {
	parent := newParent()
	path := "/api/profiles/" + parent.ID.String() + "/avatar"

	t.Run("missing file field", func(t *testing.T) {
		mux := newProfileMux(parent, newFakeAccounts(parent), fakeQuota{})
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, avatarRequest(t, path, "picture", "me.png", "image/png", []byte("x")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		mux := newProfileMux(parent, newFakeAccounts(parent), fakeQuota{})
		rec := doJSON(t, mux, "POST", path, map[string]any{"avatar": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		mux := newProfileMux(parent, newFakeAccounts(parent), fakeQuota{})
		big := bytes.Repeat([]byte("a"), service.MaxAvatarUploadBytes+(128<<10))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, avatarRequest(t, path, "avatar", "big.jpg", "image/jpeg", big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
