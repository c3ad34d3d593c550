package handler

import (
	"net/http"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
)

// DashboardHandler serves the parent dashboard, progress reports and
// coaching.
type DashboardHandler struct {
	dashboard service.DashboardService
	*Responder
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboard service.DashboardService, rs *Responder) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, Responder: rs}
}

// RegisterRoutes registers dashboard routes.
func (h *DashboardHandler) RegisterRoutes(mux *http.ServeMux, requireAuth, requirePremium func(http.Handler) http.Handler) {
	mux.Handle("GET /api/dashboard", requireAuth(http.HandlerFunc(h.Overview)))
	mux.Handle("POST /api/dashboard/report", requireAuth(http.HandlerFunc(h.RequestReport)))
	mux.Handle("POST /api/coaching", requireAuth(requirePremium(http.HandlerFunc(h.Coaching))))
}

// Overview returns activity stats for each of the parent's students.
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	const op = "DashboardHandler.Overview"

	p, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	stats, err := h.dashboard.Overview(r.Context(), p.ID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	out := make([]studentStatsResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, toStudentStatsResponse(s))
	}
	h.JSON(w, http.StatusOK, map[string]any{"students": out})
}

type reportRequest struct {
	Days int `json:"days"`
}

// RequestReport queues a PDF progress report. The link is emailed once the
// worker has built it.
func (h *DashboardHandler) RequestReport(w http.ResponseWriter, r *http.Request) {
	const op = "DashboardHandler.RequestReport"

	p, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	// The body is optional.
	var req reportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, op, &req); err != nil {
			h.Error(w, r, err)
			return
		}
	}
	if req.Days == 0 {
		req.Days = service.DefaultReportDays
	}
	if req.Days < 1 || req.Days > service.MaxReportDays {
		h.Error(w, r, domain.NewValidationError(op, "days", "Out of range (1 to 365)"))
		return
	}

	if err := h.dashboard.RequestReport(r.Context(), p.ID, req.Days); err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusAccepted, map[string]any{"status": "queued", "days": req.Days})
}

type coachingRequest struct {
	StudentID uuid.UUID `json:"student_id"`
	Concern   string    `json:"concern"`
}

// Coaching returns tips for supporting one student.
func (h *DashboardHandler) Coaching(w http.ResponseWriter, r *http.Request) {
	const op = "DashboardHandler.Coaching"

	p, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req coachingRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}
	if req.StudentID == uuid.Nil {
		h.Error(w, r, domain.NewValidationError(op, "student_id", "This field is required"))
		return
	}

	tips, err := h.dashboard.Coaching(r.Context(), p.ID, req.StudentID, req.Concern)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, tips)
}
