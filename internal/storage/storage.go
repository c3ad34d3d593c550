// Package storage stores generated and uploaded files: avatar thumbnails,
// synthesized tutor audio and PDF progress reports.
//
// Two backends implement Storage:
//   - LocalStorage writes under a directory served by the API in development
//   - R2Storage writes to Cloudflare R2 through the S3 API
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is an object store addressed by slash separated keys.
type Storage interface {
	// Put stores data at key. Without opts.Overwrite an existing key
	// fails with ErrKeyExists.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a link to the object. Public backends ignore expires;
	// private ones presign for that long.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	ContentType string // detected from the key when empty
	MaxSize     int64  // 0 means unlimited
	Overwrite   bool
	Public      bool // public-read ACL on R2
}

// =============================================================================
// Configuration
// =============================================================================

// Provider names accepted by STORAGE_PROVIDER.
const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// Config selects and configures a backend.
type Config struct {
	Provider string

	// local
	LocalPath string
	PublicURL string // base URL for local files, or the R2 custom domain

	// r2
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2Region          string
}

// New builds the configured backend.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	logger = logger.With("component", "storage")
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.LocalPath, cfg.PublicURL, logger)
	case ProviderR2:
		return NewR2Storage(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// =============================================================================
// Key Generation
// =============================================================================

// AvatarKey is where a profile's avatar thumbnail lives. Each upload gets a
// fresh key so cached URLs never show a stale picture.
// Format: avatars/{profileID}/{uuid}.jpg
func AvatarKey(profileID uuid.UUID) string {
	return fmt.Sprintf("avatars/%s/%s.jpg", profileID, uuid.New())
}

// SpeechKey is where synthesized audio for a profile is stored.
// Format: speech/{profileID}/{uuid}{ext}
func SpeechKey(profileID uuid.UUID, contentType string) string {
	return fmt.Sprintf("speech/%s/%s%s", profileID, uuid.New(), ExtensionForContentType(contentType))
}

// ReportKey is where a parent's progress report is stored.
// Format: reports/{parentID}/{yyyy-mm-dd}-{uuid}.pdf
func ReportKey(parentID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("reports/%s/%s-%s.pdf", parentID, at.UTC().Format("2006-01-02"), uuid.New())
}
