package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the review state of a purchase claim.
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
	ClaimStatusExpired  ClaimStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ClaimStatus) Terminal() bool {
	return s != ClaimStatusPending
}

// Claim workflow limits.
const (
	ClaimProcessingWindow   = 48 * time.Hour
	ClaimMaxPurchaseAgeDays = 7
	ClaimDuplicateWindow    = 30 * time.Minute
	ClaimDailyLimit         = 3
)

// PurchaseClaim is a customer-asserted purchase awaiting vendor review.
type PurchaseClaim struct {
	ID               uuid.UUID   `json:"id"`
	TenantID         uuid.UUID   `json:"tenant_id"`
	CustomerID       uuid.UUID   `json:"customer_id"`
	Phone            string      `json:"phone"`
	AmountMinor      int64       `json:"amount_minor"`
	Currency         string      `json:"currency"`
	PurchaseDate     time.Time   `json:"purchase_date"`
	Channel          string      `json:"channel"`
	ReceiptURL       string      `json:"receipt_url,omitempty"`
	Status           ClaimStatus `json:"status"`
	ExpiresAt        time.Time   `json:"expires_at"`
	ApprovedByUserID *string     `json:"approved_by_user_id,omitempty"`
	ApprovedAt       *time.Time  `json:"approved_at,omitempty"`
	RejectedByUserID *string     `json:"rejected_by_user_id,omitempty"`
	RejectedAt       *time.Time  `json:"rejected_at,omitempty"`
	RejectionReason  *string     `json:"rejection_reason,omitempty"`
	ExpiredAt        *time.Time  `json:"expired_at,omitempty"`
	PurchaseID       *uuid.UUID  `json:"purchase_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
