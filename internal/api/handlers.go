/**
 * @description
 * This file contains the shared pieces of the back-office HTTP API: the handler set, JSON
 * helpers, and the mapping from ledger error kinds to HTTP status codes. Handlers parse the
 * request, call the loyalty service and write the response; they hold no business rules.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: service logic and error kinds.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

const (
	maxRequestBodyBytes = 1 << 20
	maxPageSize         = 200
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger.With("component", "api")}
}

// HealthHandler reports whether the store is reachable.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unhealthy", "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusForError maps a ledger error kind to its HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpiredWindow):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err as a JSON error response. Unknown errors are logged and
// reported without detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal_error", "Internal server error")
		return
	}

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		seconds := int(rateErr.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeError(w, status, domain.ErrorCode(err), err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+strings.TrimSuffix(name, "ID")+"_id", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func tenantParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return uuidParam(w, r, "tenantID")
}

// pagination reads limit and offset query parameters, capping limit at maxPageSize.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Claims keep the calendar
// date as written and place it in the tenant's timezone.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func staffUserID(r *http.Request) string {
	claims, _ := GetStaffClaims(r.Context())
	return claims.UserID
}

type createTenantRequest struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings"`
}

// CreateTenantHandler registers a new business.
func (h *Handlers) CreateTenantHandler(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings := domain.DefaultTenantSettings()
	if len(req.Settings) > 0 {
		if err := json.Unmarshal(req.Settings, &settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_settings", "Invalid settings")
			return
		}
	}

	tenant, err := h.service.CreateTenant(r.Context(), req.Name, settings)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// GetTenantHandler returns the business and its loyalty settings.
func (h *Handlers) GetTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	tenant, err := h.service.GetTenant(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// UpdateTenantSettingsHandler overlays the request body on the current settings.
func (h *Handlers) UpdateTenantSettingsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	tenant, err := h.service.GetTenant(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	settings := tenant.Settings
	if !decodeJSON(w, r, &settings) {
		return
	}

	updated, err := h.service.UpdateTenantSettings(r.Context(), tenantID, settings)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type selectTenantRequest struct {
	Identity string `json:"identity"`
}

// SelectTenantHandler routes a chat identity's follow-up messages to this business.
func (h *Handlers) SelectTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req selectTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.SelectTenant(r.Context(), req.Identity, tenantID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
