// Package handler contains the HTTP handlers of the BestTutorEver API.
//
// This file implements account and profile handlers.
//
// Routes handled:
//   - GET  /api/me                    -> Me
//   - GET  /api/profiles              -> ListProfiles
//   - POST /api/profiles              -> CreateProfile
//   - PUT  /api/profiles/{id}         -> UpdateProfile
//   - POST /api/profiles/{id}/avatar  -> UploadAvatar
package handler

import (
	"errors"
	"net/http"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/DukeRupert/besttutor/internal/storage"
)

// ProfileHandler serves the caller's account and their students.
type ProfileHandler struct {
	profiles service.ProfileService
	quota    service.QuotaService
	*Responder
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profiles service.ProfileService, quota service.QuotaService, rs *Responder) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, quota: quota, Responder: rs}
}

// RegisterRoutes registers profile routes on the provided mux.
func (h *ProfileHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/me", requireAuth(http.HandlerFunc(h.Me)))
	mux.Handle("GET /api/profiles", requireAuth(http.HandlerFunc(h.ListProfiles)))
	mux.Handle("POST /api/profiles", requireAuth(http.HandlerFunc(h.CreateProfile)))
	mux.Handle("PUT /api/profiles/{id}", requireAuth(http.HandlerFunc(h.UpdateProfile)))
	mux.Handle("POST /api/profiles/{id}/avatar", requireAuth(http.HandlerFunc(h.UploadAvatar)))
}

type meResponse struct {
	Profile      profileResponse      `json:"profile"`
	Subscription subscriptionResponse `json:"subscription"`
	Quota        *quotaResponse       `json:"quota,omitempty"`
}

// Me returns the caller's profile, effective subscription and AI allowance.
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	account, err := h.profiles.GetAccount(r.Context(), p.ID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	resp := meResponse{
		Profile:      toProfileResponse(account.Profile, h.profiles.AvatarURL(r.Context(), account.Profile)),
		Subscription: toSubscriptionResponse(account.Subscription),
	}
	usage, err := h.quota.GetUsage(r.Context(), p.ID, account.Subscription)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to load quota usage", "profile_id", p.ID, "error", err)
	} else {
		resp.Quota = toQuotaResponse(usage)
	}

	h.JSON(w, http.StatusOK, resp)
}

// ListProfiles returns the parent's student profiles.
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	const op = "ProfileHandler.ListProfiles"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	students, err := h.profiles.ListStudents(r.Context(), parent.ID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	out := make([]profileResponse, 0, len(students))
	for _, s := range students {
		out = append(out, toProfileResponse(s, h.profiles.AvatarURL(r.Context(), s)))
	}
	h.JSON(w, http.StatusOK, map[string]any{"profiles": out})
}

type createProfileRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	GradeLevel  *int   `json:"grade_level"`
}

// CreateProfile adds a student profile under the parent.
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	const op = "ProfileHandler.CreateProfile"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req createProfileRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	student, err := h.profiles.CreateStudent(r.Context(), domain.CreateStudentParams{
		ParentID:    parent.ID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		GradeLevel:  req.GradeLevel,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toProfileResponse(student, ""))
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	GradeLevel  *int   `json:"grade_level"`
}

// UpdateProfile edits the name and grade of the caller or one of their students.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	const op = "ProfileHandler.UpdateProfile"

	p, err := caller(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	id, err := pathUUID(r, op, "id")
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	updated, err := h.profiles.UpdateProfile(r.Context(), p.ID, id, domain.UpdateProfileParams{
		DisplayName: req.DisplayName,
		GradeLevel:  req.GradeLevel,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toProfileResponse(updated, h.profiles.AvatarURL(r.Context(), updated)))
}

// UploadAvatar accepts a multipart "avatar" file and stores its thumbnail.
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	const op = "ProfileHandler.UploadAvatar"

	p, err := caller(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	id, err := pathUUID(r, op, "id")
	if err != nil {
		h.Error(w, r, err)
		return
	}

	// Leave room for multipart framing around the image.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxAvatarUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(service.MaxAvatarUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.Error(w, r, domain.Errorf(domain.ETOOLARGE, op, "Image is too large"))
			return
		}
		h.Error(w, r, domain.Invalid(op, "Expected a multipart form"))
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		h.Error(w, r, domain.NewValidationError(op, "avatar", "An image file is required"))
		return
	}
	defer file.Close()

	provided := header.Header.Get("Content-Type")
	if provided == "application/octet-stream" {
		provided = ""
	}
	contentType := storage.DetectContentType(provided, header.Filename, nil)

	updated, err := h.profiles.UploadAvatar(r.Context(), p.ID, id, contentType, file)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toProfileResponse(updated, h.profiles.AvatarURL(r.Context(), updated)))
}
