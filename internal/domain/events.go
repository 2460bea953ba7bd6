package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a customer-facing notification.
type EventKind string

const (
	EventPurchaseRecorded    EventKind = "purchase_recorded"
	EventClaimSubmitted      EventKind = "claim_submitted"
	EventClaimApproved       EventKind = "claim_approved"
	EventClaimRejected       EventKind = "claim_rejected"
	EventClaimExpired        EventKind = "claim_expired"
	EventRedemptionCreated   EventKind = "redemption_created"
	EventRedemptionFulfilled EventKind = "redemption_fulfilled"
	EventRedemptionCancelled EventKind = "redemption_cancelled"
	EventRedemptionExpired   EventKind = "redemption_expired"
	EventPointsExpired       EventKind = "points_expired"
	EventPointsExpiringSoon  EventKind = "points_expiring_soon"
	EventWelcomeBonus        EventKind = "welcome_bonus"
)

// Notification is the payload handed to the notifier after a ledger change commits.
type Notification struct {
	EventID    string         `json:"event_id"`
	Kind       EventKind      `json:"event_type"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	CustomerID uuid.UUID      `json:"customer_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// PurchaseRecordedEvent is consumed from the events exchange when a point-of-sale
// integration records a purchase.
type PurchaseRecordedEvent struct {
	EventID          string    `json:"event_id"`
	TenantID         string    `json:"tenant_id"`
	CustomerID       string    `json:"customer_id"`
	AmountMinor      int64     `json:"amount_minor"`
	PointsOverride   *int64    `json:"points_override,omitempty"`
	PurchaseDate     time.Time `json:"purchase_date"`
	Description      string    `json:"description"`
	RecordedByUserID string    `json:"recorded_by_user_id"`
}

// ClaimSubmittedEvent is consumed when the chat gateway receives a purchase claim.
type ClaimSubmittedEvent struct {
	EventID      string    `json:"event_id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Identity     string    `json:"identity"`
	Phone        string    `json:"phone"`
	AmountMinor  int64     `json:"amount_minor"`
	PurchaseDate time.Time `json:"purchase_date"`
	Channel      string    `json:"channel"`
	ReceiptURL   string    `json:"receipt_url"`
}

// SessionSelectedEvent records which tenant a chat identity is currently talking to.
type SessionSelectedEvent struct {
	Identity string `json:"identity"`
	TenantID string `json:"tenant_id"`
}
