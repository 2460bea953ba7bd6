package domain

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyStatus is a customer's standing in a tenant's programme.
type LoyaltyStatus string

const (
	LoyaltyStatusActive  LoyaltyStatus = "active"
	LoyaltyStatusBlocked LoyaltyStatus = "blocked"
)

// Tenant is a business running a loyalty programme.
type Tenant struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Customer is a person enrolled with a tenant.
type Customer struct {
	ID              uuid.UUID     `json:"id"`
	TenantID        uuid.UUID     `json:"tenant_id"`
	Phone           string        `json:"phone"`
	Name            string        `json:"name"`
	LoyaltyStatus   LoyaltyStatus `json:"loyalty_status"`
	TotalPurchases  int64         `json:"total_purchases"`
	TotalSpentMinor int64         `json:"total_spent_minor"`
	LastPurchaseAt  *time.Time    `json:"last_purchase_at,omitempty"`
	ClaimDay        string        `json:"-"`
	ClaimDayCount   int           `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsBlocked reports whether the customer is excluded from earning and claiming.
func (c Customer) IsBlocked() bool {
	return c.LoyaltyStatus == LoyaltyStatusBlocked
}

// PurchaseSource records how a purchase entered the ledger.
type PurchaseSource string

const (
	PurchaseSourceManual PurchaseSource = "manual"
	PurchaseSourceClaim  PurchaseSource = "claim"
	PurchaseSourcePOS    PurchaseSource = "pos"
)

// Purchase is the ledger-visible fact of a transaction at a tenant.
type Purchase struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	CustomerID       uuid.UUID      `json:"customer_id"`
	AmountMinor      int64          `json:"amount_minor"`
	Currency         string         `json:"currency"`
	PointsEarned     int64          `json:"points_earned"`
	Source           PurchaseSource `json:"source"`
	PurchaseDate     time.Time      `json:"purchase_date"`
	Description      string         `json:"description,omitempty"`
	ClaimID          *uuid.UUID     `json:"claim_id,omitempty"`
	RecordedByUserID *string        `json:"recorded_by_user_id,omitempty"`
	ExternalRef      *string        `json:"external_ref,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
