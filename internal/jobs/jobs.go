// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// profileGetter loads a single profile. service.ProfileService satisfies it.
type profileGetter interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}
