// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories, external APIs,
// and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (database errors -> domain errors)
package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/DukeRupert/besttutor/internal/storage"
	"github.com/google/uuid"
)

const (
	// MaxStudentsPerParent bounds how many student profiles one parent may create.
	MaxStudentsPerParent = 10

	// MaxDisplayNameLength is the longest accepted display name in characters.
	MaxDisplayNameLength = 80

	// avatarURLExpiry is how long presigned avatar links stay valid.
	avatarURLExpiry = 24 * time.Hour
)

var (
	errImageTooLarge   = errors.New("image too large")
	errImageUnreadable = errors.New("image unreadable")
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProfileService manages parent and student profiles.
type ProfileService interface {
	// EnsureProfile returns the profile linked to an identity provider
	// subject. On first sight it claims an unlinked student profile with the
	// same email, or creates a parent profile.
	EnsureProfile(ctx context.Context, authUserID, email, name string) (*domain.Profile, error)

	// GetProfile returns a profile by ID.
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)

	// GetAccount returns the profile with its effective subscription.
	GetAccount(ctx context.Context, profileID uuid.UUID) (*domain.Account, error)

	// ResolveActor returns the profile the caller acts as. A parent may act
	// as one of their students; anyone may act as themselves.
	ResolveActor(ctx context.Context, caller *domain.Profile, targetID uuid.UUID) (*domain.Profile, error)

	// ListStudents returns the parent's student profiles, oldest first.
	ListStudents(ctx context.Context, parentID uuid.UUID) ([]*domain.Profile, error)

	// CreateStudent adds a student profile managed by the parent.
	CreateStudent(ctx context.Context, params domain.CreateStudentParams) (*domain.Profile, error)

	// UpdateProfile edits the display name and grade of a managed profile.
	UpdateProfile(ctx context.Context, actorID, profileID uuid.UUID, params domain.UpdateProfileParams) (*domain.Profile, error)

	// UploadAvatar stores a square thumbnail of the image as the profile picture.
	UploadAvatar(ctx context.Context, actorID, profileID uuid.UUID, contentType string, data io.Reader) (*domain.Profile, error)

	// AvatarURL returns a link to the profile picture, or "" when none is set.
	AvatarURL(ctx context.Context, profile *domain.Profile) string
}

// profileQueries is the persistence the profile service needs.
type profileQueries interface {
	GetProfileByID(ctx context.Context, id uuid.UUID) (repository.Profile, error)
	GetProfileByAuthUserID(ctx context.Context, authUserID string) (repository.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (repository.Profile, error)
	CreateProfile(ctx context.Context, arg repository.CreateProfileParams) (repository.Profile, error)
	LinkProfileAuthUser(ctx context.Context, arg repository.LinkProfileAuthUserParams) (repository.Profile, error)
	ListStudentsByParent(ctx context.Context, parentID uuid.UUID) ([]repository.Profile, error)
	UpdateProfileDetails(ctx context.Context, arg repository.UpdateProfileDetailsParams) (repository.Profile, error)
	UpdateProfileAvatar(ctx context.Context, arg repository.UpdateProfileAvatarParams) error
}

// statusReader resolves a profile's effective subscription.
type statusReader interface {
	GetStatus(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error)
}

// =============================================================================
// Implementation
// =============================================================================

type profileService struct {
	queries    profileQueries
	status     statusReader
	store      storage.Storage
	thumbnails ThumbnailProcessor
	logger     *slog.Logger
}

var _ ProfileService = (*profileService)(nil)

// NewProfileService creates a profile service.
func NewProfileService(
	queries profileQueries,
	status statusReader,
	store storage.Storage,
	thumbnails ThumbnailProcessor,
	logger *slog.Logger,
) ProfileService {
	return &profileService{
		queries:    queries,
		status:     status,
		store:      store,
		thumbnails: thumbnails,
		logger:     logger.With("component", "profile_service"),
	}
}

// EnsureProfile runs on every authenticated request, so the common path is
// a single lookup by subject.
func (s *profileService) EnsureProfile(ctx context.Context, authUserID, email, name string) (*domain.Profile, error) {
	const op = "ProfileService.EnsureProfile"

	if authUserID == "" {
		return nil, domain.Unauthorized(op, "Token has no subject")
	}

	row, err := s.queries.GetProfileByAuthUserID(ctx, authUserID)
	if err == nil {
		return toDomainProfile(row), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Internal(err, op, "failed to load profile")
	}

	email = strings.TrimSpace(email)
	if email != "" {
		linked, err := s.claimStudent(ctx, authUserID, email)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to link profile")
		}
		if linked != nil {
			s.logger.InfoContext(ctx, "linked student profile to login", "profile_id", linked.ID)
			return linked, nil
		}
	}

	row, err = s.queries.CreateProfile(ctx, repository.CreateProfileParams{
		AuthUserID:  domain.ToNullString(authUserID),
		Email:       email,
		DisplayName: truncateRunes(strings.TrimSpace(name), MaxDisplayNameLength),
		Role:        string(domain.RoleParent),
	})
	if repository.IsUniqueViolation(err) {
		// A concurrent first request created it.
		row, err = s.queries.GetProfileByAuthUserID(ctx, authUserID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create profile")
	}

	s.logger.InfoContext(ctx, "created parent profile", "profile_id", row.ID)
	return toDomainProfile(row), nil
}

// claimStudent links a parent-created student with this email that has no
// login yet. It returns nil when there is nothing to claim.
func (s *profileService) claimStudent(ctx context.Context, authUserID, email string) (*domain.Profile, error) {
	row, err := s.queries.GetProfileByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.AuthUserID.Valid || row.Role != string(domain.RoleStudent) {
		return nil, nil
	}

	row, err = s.queries.LinkProfileAuthUser(ctx, repository.LinkProfileAuthUserParams{
		ID:         row.ID,
		AuthUserID: domain.ToNullString(authUserID),
	})
	if errors.Is(err, sql.ErrNoRows) || repository.IsUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDomainProfile(row), nil
}

func (s *profileService) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	const op = "ProfileService.GetProfile"

	row, err := s.queries.GetProfileByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "profile", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load profile")
	}
	return toDomainProfile(row), nil
}

func (s *profileService) GetAccount(ctx context.Context, profileID uuid.UUID) (*domain.Account, error) {
	profile, err := s.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	sub, err := s.status.GetStatus(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return &domain.Account{Profile: profile, Subscription: sub}, nil
}

func (s *profileService) ResolveActor(ctx context.Context, caller *domain.Profile, targetID uuid.UUID) (*domain.Profile, error) {
	const op = "ProfileService.ResolveActor"

	if targetID == uuid.Nil || targetID == caller.ID {
		return caller, nil
	}
	if !caller.IsParent() {
		return nil, domain.Forbidden(op, "Only parents can act for another profile")
	}

	target, err := s.GetProfile(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.ManagedBy(caller.ID) {
		return nil, domain.Forbidden(op, "That profile does not belong to you")
	}
	return target, nil
}

func (s *profileService) ListStudents(ctx context.Context, parentID uuid.UUID) ([]*domain.Profile, error) {
	const op = "ProfileService.ListStudents"

	rows, err := s.queries.ListStudentsByParent(ctx, parentID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list students")
	}
	students := make([]*domain.Profile, len(rows))
	for i, row := range rows {
		students[i] = toDomainProfile(row)
	}
	return students, nil
}

func (s *profileService) CreateStudent(ctx context.Context, params domain.CreateStudentParams) (*domain.Profile, error) {
	const op = "ProfileService.CreateStudent"

	params.DisplayName = strings.TrimSpace(params.DisplayName)
	params.Email = strings.TrimSpace(params.Email)
	if verr := validateProfileFields(op, params.DisplayName, params.GradeLevel); verr != nil {
		return nil, verr
	}
	if params.Email != "" {
		if _, err := mail.ParseAddress(params.Email); err != nil {
			return nil, domain.NewValidationError(op, "email", "Email address is not valid")
		}
	}

	parent, err := s.GetProfile(ctx, params.ParentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsParent() {
		return nil, domain.Forbidden(op, "Only parents can add students")
	}

	existing, err := s.queries.ListStudentsByParent(ctx, parent.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count students")
	}
	if len(existing) >= MaxStudentsPerParent {
		return nil, domain.Invalid(op, "You have reached the maximum number of students")
	}

	// Students without their own login inherit the parent's address for
	// notifications; the login link only matches explicit emails.
	email := params.Email
	if email == "" {
		email = parent.Email
	}

	row, err := s.queries.CreateProfile(ctx, repository.CreateProfileParams{
		ParentID:    uuid.NullUUID{UUID: parent.ID, Valid: true},
		Email:       email,
		DisplayName: params.DisplayName,
		Role:        string(domain.RoleStudent),
		GradeLevel:  domain.ToNullInt32(params.GradeLevel),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create student")
	}

	s.logger.InfoContext(ctx, "created student profile", "parent_id", parent.ID, "profile_id", row.ID)
	return toDomainProfile(row), nil
}

func (s *profileService) UpdateProfile(ctx context.Context, actorID, profileID uuid.UUID, params domain.UpdateProfileParams) (*domain.Profile, error) {
	const op = "ProfileService.UpdateProfile"

	params.DisplayName = strings.TrimSpace(params.DisplayName)
	if verr := validateProfileFields(op, params.DisplayName, params.GradeLevel); verr != nil {
		return nil, verr
	}
	if _, err := s.managedProfile(ctx, op, actorID, profileID); err != nil {
		return nil, err
	}

	row, err := s.queries.UpdateProfileDetails(ctx, repository.UpdateProfileDetailsParams{
		ID:          profileID,
		DisplayName: params.DisplayName,
		GradeLevel:  domain.ToNullInt32(params.GradeLevel),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update profile")
	}
	return toDomainProfile(row), nil
}

func (s *profileService) UploadAvatar(ctx context.Context, actorID, profileID uuid.UUID, contentType string, data io.Reader) (*domain.Profile, error) {
	const op = "ProfileService.UploadAvatar"

	if !storage.IsAllowedAvatarType(contentType) {
		return nil, domain.Invalid(op, "Avatar must be a JPEG, PNG or GIF image")
	}
	profile, err := s.managedProfile(ctx, op, actorID, profileID)
	if err != nil {
		return nil, err
	}

	thumb, width, height, err := s.thumbnails.SquareThumbnail(data, AvatarSize)
	switch {
	case errors.Is(err, errImageTooLarge):
		return nil, domain.Errorf(domain.ETOOLARGE, op, "Image is too large")
	case errors.Is(err, errImageUnreadable):
		return nil, domain.Invalid(op, "Image could not be read")
	case err != nil:
		return nil, domain.Internal(err, op, "failed to process image")
	}

	key := storage.AvatarKey(profile.ID)
	if err := s.store.Put(ctx, key, bytes.NewReader(thumb), storage.PutOptions{
		ContentType: "image/jpeg",
		Public:      true,
	}); err != nil {
		return nil, domain.Internal(err, op, "failed to store avatar")
	}

	if err := s.queries.UpdateProfileAvatar(ctx, repository.UpdateProfileAvatarParams{
		ID:        profile.ID,
		AvatarKey: domain.ToNullString(key),
	}); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), key)
		return nil, domain.Internal(err, op, "failed to save avatar")
	}

	if old := profile.AvatarKey; old != "" {
		if err := s.store.Delete(ctx, old); err != nil {
			s.logger.WarnContext(ctx, "failed to delete previous avatar", "key", old, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "updated avatar", "profile_id", profile.ID, "source_width", width, "source_height", height)
	profile.AvatarKey = key
	return profile, nil
}

func (s *profileService) AvatarURL(ctx context.Context, profile *domain.Profile) string {
	if profile == nil || profile.AvatarKey == "" {
		return ""
	}
	url, err := s.store.URL(ctx, profile.AvatarKey, avatarURLExpiry)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to build avatar url", "profile_id", profile.ID, "error", err)
		return ""
	}
	return url
}

// managedProfile loads a profile and checks the actor may edit it.
func (s *profileService) managedProfile(ctx context.Context, op string, actorID, profileID uuid.UUID) (*domain.Profile, error) {
	profile, err := s.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.ManagedBy(actorID) {
		return nil, domain.Forbidden(op, "That profile does not belong to you")
	}
	return profile, nil
}

func validateProfileFields(op, displayName string, grade *int) error {
	verr := &domain.ValidationError{Op: op}
	if displayName == "" {
		verr.Add("display_name", "Name is required")
	} else if utf8.RuneCountInString(displayName) > MaxDisplayNameLength {
		verr.Add("display_name", "Name is too long")
	}
	if grade != nil && (*grade < domain.MinGradeLevel || *grade > domain.MaxGradeLevel) {
		verr.Add("grade_level", "Grade must be between K (0) and 12")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
