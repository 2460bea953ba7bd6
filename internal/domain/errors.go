package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error surfaced by the ledger core wraps exactly one of these so
// callers can branch with errors.Is without knowing the concrete failure.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutOfStock          = errors.New("out of stock")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrRateLimited         = errors.New("rate limited")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrExpiredWindow       = errors.New("expired window")
)

// LedgerError is a concrete failure that belongs to one of the kinds above.
type LedgerError struct {
	Kind    error
	Code    string
	Message string
}

func (e *LedgerError) Error() string {
	return e.Message
}

func (e *LedgerError) Unwrap() error {
	return e.Kind
}

func newError(kind error, code, message string) *LedgerError {
	return &LedgerError{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidAmount          = newError(ErrValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidPoints          = newError(ErrValidation, "invalid_points", "points must be greater than zero")
	ErrFutureDatedPurchase    = newError(ErrValidation, "future_dated_purchase", "purchase date cannot be in the future")
	ErrCustomerBlocked        = newError(ErrValidation, "customer_blocked", "customer is blocked from the loyalty programme")
	ErrRejectionReasonMissing = newError(ErrValidation, "rejection_reason_required", "a rejection reason is required")
	ErrRewardInactive         = newError(ErrValidation, "reward_inactive", "reward is not active")
	ErrRewardNotYetValid      = newError(ErrValidation, "reward_not_yet_valid", "reward is not yet available")
	ErrRewardNoLongerValid    = newError(ErrValidation, "reward_no_longer_valid", "reward is no longer available")
	ErrRedemptionLimitReached = newError(ErrValidation, "redemption_limit_reached", "customer has reached the redemption limit for this reward")
	ErrIdempotencyKeyMismatch = newError(ErrValidation, "idempotency_key_mismatch", "idempotency key was already used for a different request")
	ErrRewardValueTooLow      = newError(ErrValidation, "reward_value_too_low", "reward value is below the minimum for this currency")
	ErrDuplicateCustomer      = newError(ErrValidation, "duplicate_customer", "a customer with this phone number is already enrolled")

	ErrTenantNotFound     = newError(ErrNotFound, "tenant_not_found", "tenant not found")
	ErrCustomerNotFound   = newError(ErrNotFound, "customer_not_found", "customer not found")
	ErrRewardNotFound     = newError(ErrNotFound, "reward_not_found", "reward not found")
	ErrClaimNotFound      = newError(ErrNotFound, "claim_not_found", "purchase claim not found")
	ErrRedemptionNotFound = newError(ErrNotFound, "redemption_not_found", "redemption not found")
	ErrPurchaseNotFound   = newError(ErrNotFound, "purchase_not_found", "purchase not found")
	ErrNoActiveTenant     = newError(ErrNotFound, "no_active_tenant", "no active business selected for this chat identity")

	ErrInsufficientPoints = newError(ErrInsufficientBalance, "insufficient_balance", "not enough points for this operation")
	ErrRewardOutOfStock   = newError(ErrOutOfStock, "out_of_stock", "reward is out of stock")

	ErrClaimAlreadyReviewed    = newError(ErrAlreadyProcessed, "claim_already_reviewed", "purchase claim has already been reviewed")
	ErrAlreadyFulfilled        = newError(ErrAlreadyProcessed, "already_fulfilled", "redemption has already been fulfilled")
	ErrRedemptionNotActive     = newError(ErrAlreadyProcessed, "redemption_not_active", "redemption is no longer active")
	ErrRedemptionAlreadyActive = newError(ErrAlreadyProcessed, "redemption_pending", "customer already has a pending redemption for this reward")
	ErrPurchaseAlreadyRecorded = newError(ErrAlreadyProcessed, "purchase_already_recorded", "a purchase with this external reference was already recorded")

	ErrDuplicateClaim = newError(ErrDuplicateSubmission, "duplicate_claim", "an identical claim was submitted moments ago")

	ErrClaimWindowElapsed = newError(ErrExpiredWindow, "claim_window_elapsed", "purchases older than 7 days cannot be claimed")
	ErrRedemptionExpired  = newError(ErrExpiredWindow, "redemption_expired", "redemption code has expired")
	ErrClaimExpired       = newError(ErrExpiredWindow, "claim_expired", "purchase claim processing window has elapsed")
)

// ValidationError reports a bad input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError is returned when a submission cap is hit.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ErrorCode returns a stable machine-readable code for err, or "" if err is not a ledger error.
func ErrorCode(err error) string {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Code
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return "invalid_" + validationErr.Field
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return "rate_limited"
	}
	return ""
}
