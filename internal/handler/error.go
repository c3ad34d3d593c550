// Package handler contains the HTTP handlers of the BestTutorEver API.
//
// Every response is JSON. Errors are written through Responder, which maps
// domain error codes to HTTP status codes.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
)

// Responder writes JSON success and error bodies. It is shared by every
// handler and by the middleware that rejects requests.
type Responder struct {
	logger     *slog.Logger
	upgradeURL string
}

// NewResponder creates a Responder. upgradeURL is returned to clients that
// hit a premium-only feature.
func NewResponder(logger *slog.Logger, upgradeURL string) *Responder {
	return &Responder{logger: logger, upgradeURL: upgradeURL}
}

// JSONError is the error body every failed request receives.
type JSONError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
	UpgradeURL string `json:"upgrade_url,omitempty"`
}

// Error writes an error response to the client.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		rs.validationError(w, r, ve)
		return
	}

	var limitErr *ratelimit.ExceededError
	if errors.As(err, &limitErr) {
		err = domain.RateLimit("", limitErr.RetryAfter)
	}

	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	logError(rs.logger, r, err, code, domain.ErrorOp(err), status)

	var body JSONError
	body.Error.Code = WireCode(code)
	body.Error.Message = domain.ErrorMessage(err)

	switch code {
	case domain.EUPGRADE:
		body.UpgradeURL = rs.upgradeURL
	case domain.ERATELIMIT:
		w.Header().Set("Retry-After", retryAfterSeconds(err))
	}

	rs.JSON(w, status, body)
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN, domain.EUPGRADE:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	default:
		return http.StatusInternalServerError // 500
	}
}

// WireCode is the code clients see: "not_found" becomes "ENOTFOUND".
func WireCode(code string) string {
	return "E" + strings.ToUpper(strings.ReplaceAll(code, "_", ""))
}

// validationError writes field-level errors. The operation name stays in
// the logs.
func (rs *Responder) validationError(w http.ResponseWriter, r *http.Request, ve *domain.ValidationError) {
	rs.logger.Info("validation error",
		"op", ve.Op,
		"field_count", len(ve.Fields),
		"path", r.URL.Path,
	)

	var body JSONError
	body.Error.Code = WireCode(domain.EINVALID)
	body.Error.Message = "Validation failed"
	body.Error.Fields = ve.Fields
	rs.JSON(w, http.StatusBadRequest, body)
}

// Unauthorized is a convenience wrapper for 401 errors.
func (rs *Responder) Unauthorized(w http.ResponseWriter, r *http.Request) {
	rs.Error(w, r, domain.Unauthorized("", "Authentication required"))
}

// NotFound is a convenience wrapper for 404 errors.
func (rs *Responder) NotFound(w http.ResponseWriter, r *http.Request) {
	rs.Error(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// JSON writes v with the given status.
func (rs *Responder) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.logger.Warn("failed to encode response", "error", err)
	}
}

// logError logs the error with appropriate level based on status code.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if op != "" {
		attrs = append(attrs, "op", op)
	}

	// 5xx are server-side issues; 4xx are expected client errors.
	if status >= 500 {
		logger.ErrorContext(r.Context(), "server error", attrs...)
	} else {
		logger.InfoContext(r.Context(), "client error", attrs...)
	}
}

// retryAfterSeconds rounds the hint up to whole seconds, at least one.
func retryAfterSeconds(err error) string {
	secs := int(math.Ceil(domain.RetryAfter(err).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
