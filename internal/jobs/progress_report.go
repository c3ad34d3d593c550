package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/email"
	"github.com/DukeRupert/besttutor/internal/report"
	"github.com/DukeRupert/besttutor/internal/storage"
	"github.com/DukeRupert/besttutor/internal/worker"
	"github.com/google/uuid"
)

// reportLinkTTL is how long the emailed report link stays valid on
// presigning backends.
const reportLinkTTL = 7 * 24 * time.Hour

// defaultReportDays is used when a payload carries no window.
const defaultReportDays = 30

// progressSource returns the per-student data a report shows.
// service.DashboardService satisfies it.
type progressSource interface {
	Progress(ctx context.Context, parentID uuid.UUID) ([]domain.StudentProgress, error)
}

// ProgressReportHandler renders a family progress report as PDF, stores it
// and emails the parent a link.
type ProgressReportHandler struct {
	profiles     profileGetter
	progress     progressSource
	storage      storage.Storage
	emailService email.EmailService
	generator    report.Generator
	logger       *slog.Logger
	now          func() time.Time
}

var _ worker.JobHandler = (*ProgressReportHandler)(nil)

// NewProgressReportHandler creates a new handler for progress report jobs.
func NewProgressReportHandler(
	profiles profileGetter,
	progress progressSource,
	store storage.Storage,
	emailService email.EmailService,
	logger *slog.Logger,
) *ProgressReportHandler {
	return &ProgressReportHandler{
		profiles:     profiles,
		progress:     progress,
		storage:      store,
		emailService: emailService,
		generator:    report.NewPDFGenerator(),
		logger:       logger.With("component", "progress_report_job"),
		now:          time.Now,
	}
}

// Type returns the job type identifier.
func (h *ProgressReportHandler) Type() string {
	return worker.JobTypeProgressReport
}

// Handle executes the progress report job.
func (h *ProgressReportHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ProgressReportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.ParentID == uuid.Nil {
		return worker.NewPermanentError(fmt.Errorf("missing parent_id"))
	}
	if p.Days <= 0 {
		p.Days = defaultReportDays
	}

	parent, err := h.profiles.GetProfile(ctx, p.ParentID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return worker.NewPermanentError(fmt.Errorf("parent %s: %w", p.ParentID, err))
		}
		return fmt.Errorf("fetch parent: %w", err)
	}
	if !parent.IsParent() {
		return worker.NewPermanentError(fmt.Errorf("profile %s is not a parent", p.ParentID))
	}

	students, err := h.progress.Progress(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("collect progress: %w", err)
	}

	data := &report.ProgressReport{
		ParentName:  parent.Name(),
		GeneratedAt: h.now(),
		PeriodDays:  p.Days,
		Students:    students,
	}

	var buf bytes.Buffer
	size, err := h.generator.Generate(ctx, data, &buf)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	h.logger.InfoContext(ctx, "report generated",
		"parent_id", parent.ID,
		"students", len(students),
		"size_bytes", size,
	)

	key := storage.ReportKey(parent.ID, data.GeneratedAt)
	if err := h.storage.Put(ctx, key, &buf, storage.PutOptions{
		ContentType: h.generator.ContentType(),
		Overwrite:   true,
	}); err != nil {
		return fmt.Errorf("upload report to storage: %w", err)
	}

	reportURL, err := h.storage.URL(ctx, key, reportLinkTTL)
	if err != nil {
		return fmt.Errorf("report url: %w", err)
	}

	// The report is stored; a failed email is logged, not retried.
	if h.emailService != nil && parent.Email != "" {
		if err := h.emailService.SendReportReadyEmail(ctx, parent.Email, parent.Name(), reportURL, p.Days); err != nil {
			h.logger.ErrorContext(ctx, "failed to send report ready email",
				"error", err,
				"parent_id", parent.ID,
				"storage_key", key,
			)
		}
	}

	h.logger.InfoContext(ctx, "progress report completed",
		"parent_id", parent.ID,
		"storage_key", key,
	)
	return nil
}
