package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reward is a catalog entry customers can redeem points for.
type Reward struct {
	ID                        uuid.UUID  `json:"id"`
	TenantID                  uuid.UUID  `json:"tenant_id"`
	Name                      string     `json:"name"`
	Description               string     `json:"description,omitempty"`
	PointsRequired            int64      `json:"points_required"`
	ValueMinor                *int64     `json:"value_minor,omitempty"`
	StockQuantity             *int64     `json:"stock_quantity,omitempty"`
	MaxRedemptionsPerCustomer *int       `json:"max_redemptions_per_customer,omitempty"`
	ValidFrom                 *time.Time `json:"valid_from,omitempty"`
	ValidUntil                *time.Time `json:"valid_until,omitempty"`
	IsActive                  bool       `json:"is_active"`
	TotalRedemptions          int64      `json:"total_redemptions"`
	DeletedAt                 *time.Time `json:"deleted_at,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// CheckAvailable validates activity and the validity window at now.
func (r Reward) CheckAvailable(now time.Time) error {
	if !r.IsActive || r.DeletedAt != nil {
		return ErrRewardInactive
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrRewardNotYetValid
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return ErrRewardNoLongerValid
	}
	if r.StockQuantity != nil && *r.StockQuantity <= 0 {
		return ErrRewardOutOfStock
	}
	return nil
}

// RedemptionStatus is the persisted state of a redemption.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	// RedemptionVerified is reported by Stage and never stored.
	RedemptionVerified  RedemptionStatus = "verified"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionCancelled RedemptionStatus = "cancelled"
	RedemptionExpired   RedemptionStatus = "expired"
)

// RedemptionLifetime is how long a redemption code stays usable.
const RedemptionLifetime = 24 * time.Hour

// RewardRedemption is one attempt to spend points on a reward.
type RewardRedemption struct {
	ID                  uuid.UUID        `json:"id"`
	TenantID            uuid.UUID        `json:"tenant_id"`
	CustomerID          uuid.UUID        `json:"customer_id"`
	RewardID            uuid.UUID        `json:"reward_id"`
	RedemptionCode      string           `json:"redemption_code"`
	PointsDeducted      int64            `json:"points_deducted"`
	Status              RedemptionStatus `json:"status"`
	IdempotencyKey      *string          `json:"idempotency_key,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at"`
	VerifiedByUserID    *string          `json:"verified_by_user_id,omitempty"`
	VerifiedAt          *time.Time       `json:"verified_at,omitempty"`
	FulfilledAt         *time.Time       `json:"fulfilled_at,omitempty"`
	FulfilledByUserID   *string          `json:"fulfilled_by_user_id,omitempty"`
	FulfilmentNotes     *string          `json:"fulfilment_notes,omitempty"`
	CancelledAt         *time.Time       `json:"cancelled_at,omitempty"`
	CancellationReason  *string          `json:"cancellation_reason,omitempty"`
	ExpiredAt           *time.Time       `json:"expired_at,omitempty"`
	RefundTransactionID *uuid.UUID       `json:"refund_transaction_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Stage returns the lifecycle stage. A pending redemption that has been checked by staff
// is reported as verified even though its stored status stays pending.
func (r RewardRedemption) Stage() RedemptionStatus {
	if r.Status == RedemptionPending && r.VerifiedAt != nil {
		return RedemptionVerified
	}
	return r.Status
}

// Open reports whether the redemption can still be fulfilled, cancelled or expired.
func (r RewardRedemption) Open() bool {
	return r.Status == RedemptionPending
}

// PastDue reports whether the redemption outlived its lifetime at now.
func (r RewardRedemption) PastDue(now time.Time) bool {
	return r.Open() && !now.Before(r.ExpiresAt)
}
