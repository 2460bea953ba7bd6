package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// CreateRewardHandler adds a reward to the catalog.
func (h *Handlers) CreateRewardHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req app.RewardInput
	if !decodeJSON(w, r, &req) {
		return
	}
	reward, err := h.service.CreateReward(r.Context(), tenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

// ListRewardsHandler lists the catalog; ?include_inactive=true also returns disabled rewards.
func (h *Handlers) ListRewardsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	includeInactive := false
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_include_inactive", "include_inactive must be a boolean")
			return
		}
		includeInactive = v
	}
	rewards, err := h.service.ListRewards(r.Context(), tenantID, includeInactive)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

// GetRewardHandler returns one reward.
func (h *Handlers) GetRewardHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rewardID, ok := uuidParam(w, r, "rewardID")
	if !ok {
		return
	}
	reward, err := h.service.GetReward(r.Context(), tenantID, rewardID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

// UpdateRewardHandler replaces a reward's editable fields.
func (h *Handlers) UpdateRewardHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rewardID, ok := uuidParam(w, r, "rewardID")
	if !ok {
		return
	}
	var req app.RewardInput
	if !decodeJSON(w, r, &req) {
		return
	}
	reward, err := h.service.UpdateReward(r.Context(), tenantID, rewardID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetRewardActiveHandler enables or disables a reward.
func (h *Handlers) SetRewardActiveHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rewardID, ok := uuidParam(w, r, "rewardID")
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reward, err := h.service.SetRewardActive(r.Context(), tenantID, rewardID, req.Active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

// DeleteRewardHandler removes a reward from the catalog.
func (h *Handlers) DeleteRewardHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rewardID, ok := uuidParam(w, r, "rewardID")
	if !ok {
		return
	}
	if err := h.service.DeleteReward(r.Context(), tenantID, rewardID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type redeemRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	RewardID   uuid.UUID `json:"reward_id"`
}

// RedeemRewardHandler spends a customer's points on a reward. The Idempotency-Key header
// makes retries return the original redemption.
func (h *Handlers) RedeemRewardHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.RedeemReward(r.Context(), app.RedeemInput{
		TenantID:       tenantID,
		CustomerID:     req.CustomerID,
		RewardID:       req.RewardID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// ListRedemptionsHandler lists redemptions, filtered by ?customer_id= and ?status=.
func (h *Handlers) ListRedemptionsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	filter := store.RedemptionFilter{Limit: limit, Offset: offset}
	query := r.URL.Query()
	if raw := query.Get("customer_id"); raw != "" {
		customerID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "Invalid customer_id")
			return
		}
		filter.CustomerID = &customerID
	}
	if raw := query.Get("status"); raw != "" {
		status := domain.RedemptionStatus(raw)
		switch status {
		case domain.RedemptionPending, domain.RedemptionFulfilled, domain.RedemptionCancelled, domain.RedemptionExpired:
			filter.Status = &status
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "Unknown redemption status")
			return
		}
	}

	redemptions, err := h.service.ListRedemptions(r.Context(), tenantID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// GetRedemptionHandler returns one redemption.
func (h *Handlers) GetRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	redemptionID, ok := uuidParam(w, r, "redemptionID")
	if !ok {
		return
	}
	redemption, err := h.service.GetRedemption(r.Context(), tenantID, redemptionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

type verifyRedemptionRequest struct {
	Code string `json:"code"`
}

// VerifyRedemptionHandler checks a code presented at the till.
func (h *Handlers) VerifyRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req verifyRedemptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	redemption, err := h.service.VerifyRedemption(r.Context(), tenantID, req.Code, staffUserID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

type fulfillRedemptionRequest struct {
	Notes string `json:"notes"`
}

// FulfillRedemptionHandler marks a redemption as handed over.
func (h *Handlers) FulfillRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	redemptionID, ok := uuidParam(w, r, "redemptionID")
	if !ok {
		return
	}
	var req fulfillRedemptionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	redemption, err := h.service.FulfillRedemption(r.Context(), tenantID, redemptionID, staffUserID(r), req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

type cancelRedemptionRequest struct {
	Reason string `json:"reason"`
}

// CancelRedemptionHandler cancels an open redemption and refunds its points.
func (h *Handlers) CancelRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	redemptionID, ok := uuidParam(w, r, "redemptionID")
	if !ok {
		return
	}
	var req cancelRedemptionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	redemption, err := h.service.CancelRedemption(r.Context(), tenantID, redemptionID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}
