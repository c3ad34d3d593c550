package flows

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/go-playground/validator/v10"
)

// Flows runs the tutoring features against one generator.
type Flows struct {
	gen      ai.Generator
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates the flows. gen is normally telemetry.Recorder over ai.Guarded.
func New(gen ai.Generator, validate *validator.Validate, logger *slog.Logger) *Flows {
	return &Flows{
		gen:      gen,
		validate: validate,
		logger:   logger.With("component", "flows"),
	}
}

// generate is GenerateStructured plus domain error mapping.
func generate[T any](ctx context.Context, f *Flows, op string, req ai.Request) (T, error) {
	out, _, err := ai.GenerateStructured[T](ctx, f.gen, f.validate, req)
	if err != nil {
		return out, f.mapError(ctx, op, req.Flow, err)
	}
	return out, nil
}

// mapError turns boundary failures into domain errors. Provider and schema
// details are logged here and never reach the caller.
func (f *Flows) mapError(ctx context.Context, op, flow string, err error) error {
	var limitErr *ratelimit.ExceededError
	var schemaErr *ai.SchemaValidationError

	switch {
	case errors.As(err, &limitErr):
		return domain.RateLimit(op, limitErr.RetryAfter)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &schemaErr):
		f.logger.ErrorContext(ctx, "ai output failed validation", "flow", flow, "schema", schemaErr.Schema, "fields", schemaErr.Fields, "error", schemaErr.Err)
		return domain.Upstream(err, op, "The tutor returned an unexpected answer")
	case errors.Is(err, ai.EAIContentPolicy):
		return domain.Invalid(op, "That request can't be answered. Try rephrasing it.")
	default:
		f.logger.ErrorContext(ctx, "ai provider failed", "flow", flow, "error", err)
		return domain.Upstream(err, op, "The tutor is unavailable")
	}
}
