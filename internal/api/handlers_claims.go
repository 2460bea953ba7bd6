package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

type recordPurchaseRequest struct {
	CustomerID     uuid.UUID  `json:"customer_id"`
	AmountMinor    int64      `json:"amount_minor"`
	PointsOverride *int64     `json:"points_override"`
	PurchaseDate   *time.Time `json:"purchase_date"`
	Description    string     `json:"description"`
	ExternalRef    string     `json:"external_ref"`
}

// RecordPurchaseHandler records a purchase entered by staff and awards its points.
func (h *Handlers) RecordPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req recordPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := app.RecordPurchaseInput{
		TenantID:         tenantID,
		CustomerID:       req.CustomerID,
		AmountMinor:      req.AmountMinor,
		PointsOverride:   req.PointsOverride,
		Description:      req.Description,
		Source:           domain.PurchaseSourceManual,
		RecordedByUserID: staffUserID(r),
		ExternalRef:      req.ExternalRef,
	}
	if req.PurchaseDate != nil {
		in.PurchaseDate = *req.PurchaseDate
	}

	result, err := h.service.RecordPurchase(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type submitClaimRequest struct {
	Phone        string `json:"phone"`
	Identity     string `json:"identity"`
	AmountMinor  int64  `json:"amount_minor"`
	PurchaseDate string `json:"purchase_date"`
	Channel      string `json:"channel"`
	ReceiptURL   string `json:"receipt_url"`
}

// SubmitClaimHandler files a customer purchase claim on the customer's behalf.
func (h *Handlers) SubmitClaimHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := app.SubmitClaimInput{
		TenantID:    tenantID,
		Identity:    req.Identity,
		Phone:       req.Phone,
		AmountMinor: req.AmountMinor,
		Channel:     req.Channel,
		ReceiptURL:  req.ReceiptURL,
	}
	if req.PurchaseDate != "" {
		date, err := parseDate(req.PurchaseDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_purchase_date", "purchase_date must be YYYY-MM-DD or RFC 3339")
			return
		}
		in.PurchaseDate = date
	}

	claim, err := h.service.SubmitClaim(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

// ListClaimsHandler lists claims, optionally filtered by ?status=.
func (h *Handlers) ListClaimsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	filter := store.ClaimFilter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.ClaimStatus(raw)
		switch status {
		case domain.ClaimStatusPending, domain.ClaimStatusApproved, domain.ClaimStatusRejected, domain.ClaimStatusExpired:
			filter.Status = &status
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "Unknown claim status")
			return
		}
	}

	claims, err := h.service.ListClaims(r.Context(), tenantID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// GetClaimHandler returns one claim.
func (h *Handlers) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	claimID, ok := uuidParam(w, r, "claimID")
	if !ok {
		return
	}
	claim, err := h.service.GetClaim(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// ApproveClaimHandler approves a pending claim and credits its points.
func (h *Handlers) ApproveClaimHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	claimID, ok := uuidParam(w, r, "claimID")
	if !ok {
		return
	}
	approval, err := h.service.ApproveClaim(r.Context(), tenantID, claimID, staffUserID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type rejectClaimRequest struct {
	Reason string `json:"reason"`
}

// RejectClaimHandler rejects a pending claim with a reason.
func (h *Handlers) RejectClaimHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	claimID, ok := uuidParam(w, r, "claimID")
	if !ok {
		return
	}
	var req rejectClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claim, err := h.service.RejectClaim(r.Context(), tenantID, claimID, staffUserID(r), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}
