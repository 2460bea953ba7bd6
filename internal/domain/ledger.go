/**
 * @description
 * Core ledger models: the per-customer points balance and the append-only points
 * transaction log.
 *
 * @notes
 * - `PointsTransaction.Points` is always a signed delta. Credits (earn, welcome bonus,
 *   refund, positive adjustment) are positive; debits (redemption, expiry, negative
 *   adjustment) are zero or negative. Summing `Points` over every transaction of a
 *   customer yields `CurrentBalance`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger event.
type TransactionType string

const (
	TransactionEarn         TransactionType = "earn"
	TransactionRedeemed     TransactionType = "redeemed"
	TransactionAdjusted     TransactionType = "adjusted"
	TransactionRefunded     TransactionType = "refunded"
	TransactionExpiry       TransactionType = "expiry"
	TransactionWelcomeBonus TransactionType = "welcome_bonus"
)

// IsEarnType reports whether transactions of this type carry an expiry date.
func (t TransactionType) IsEarnType() bool {
	return t == TransactionEarn || t == TransactionWelcomeBonus
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionRedeemed, TransactionAdjusted, TransactionRefunded, TransactionExpiry, TransactionWelcomeBonus:
		return true
	}
	return false
}

// Metadata keys written onto points transactions.
const (
	MetadataExpiryWarningSentAt   = "expiry_warning_sent_at"
	MetadataExpiredTransactionIDs = "expired_transaction_ids"
	MetadataNominalPoints         = "nominal_points"
	MetadataReason                = "reason"
	MetadataAdjustedByUserID      = "adjusted_by_user_id"
)

// CustomerPointsBalance is the running balance for one customer of one tenant.
type CustomerPointsBalance struct {
	TenantID            uuid.UUID  `json:"tenant_id"`
	CustomerID          uuid.UUID  `json:"customer_id"`
	CurrentBalance      int64      `json:"current_balance"`
	TotalPointsEarned   int64      `json:"total_points_earned"`
	TotalPointsRedeemed int64      `json:"total_points_redeemed"`
	TotalPointsExpired  int64      `json:"total_points_expired"`
	LastEarnedAt        *time.Time `json:"last_earned_at,omitempty"`
	LastRedeemedAt      *time.Time `json:"last_redeemed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// PointsTransaction is one row of the append-only ledger.
type PointsTransaction struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	CustomerID         uuid.UUID       `json:"customer_id"`
	Type               TransactionType `json:"transaction_type"`
	Points             int64           `json:"points"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	Expired            bool            `json:"expired"`
	Description        string          `json:"description"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	PurchaseID         *uuid.UUID      `json:"purchase_id,omitempty"`
	RewardRedemptionID *uuid.UUID      `json:"reward_redemption_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ExpiryWarned reports whether an expiry warning was already sent for this transaction.
func (t PointsTransaction) ExpiryWarned() bool {
	if t.Metadata == nil {
		return false
	}
	_, ok := t.Metadata[MetadataExpiryWarningSentAt]
	return ok
}

// CustomerKey identifies a customer within a tenant.
type CustomerKey struct {
	TenantID   uuid.UUID
	CustomerID uuid.UUID
}

// GroupByCustomer buckets transactions per (tenant, customer), keeping first-seen order.
func GroupByCustomer(txs []PointsTransaction) ([]CustomerKey, map[CustomerKey][]PointsTransaction) {
	order := make([]CustomerKey, 0)
	groups := make(map[CustomerKey][]PointsTransaction)
	for _, tx := range txs {
		key := CustomerKey{TenantID: tx.TenantID, CustomerID: tx.CustomerID}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}
	return order, groups
}
