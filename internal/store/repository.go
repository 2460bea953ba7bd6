/**
 * @description
 * This file defines the storage contract for the loyalty ledger. Reads are available on
 * the repository directly; every mutation happens inside an atomic unit opened with
 * `InTx`, and the unit only exposes guarded primitives. The balance row is never written
 * directly: callers go through Increment, TryDecrement, Refund and ExpirePoints, each of
 * which writes the balance change and its ledger row together.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - internal/domain: the ledger models and error taxonomy.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

var (
	// ErrStateConflict is returned when a conditional status transition matched no rows.
	// Callers re-read the row to decide which domain error to surface.
	ErrStateConflict = errors.New("row no longer in expected state")

	ErrDuplicateRedemptionCode    = errors.New("redemption code already in use")
	ErrDuplicateIdempotencyKey    = errors.New("idempotency key already in use")
	ErrDuplicatePendingRedemption = errors.New("pending redemption already exists for reward")
	ErrClaimLimitReached          = errors.New("daily claim limit reached")
	ErrDuplicatePurchaseRef       = errors.New("purchase external reference already recorded")
)

// LedgerEntry describes one ledger movement. Points is the magnitude (> 0); the primitive
// that writes the entry decides the sign of the stored delta.
type LedgerEntry struct {
	TenantID           uuid.UUID
	CustomerID         uuid.UUID
	Type               domain.TransactionType
	Points             int64
	Description        string
	Metadata           map[string]any
	ExpiresAt          *time.Time
	PurchaseID         *uuid.UUID
	RewardRedemptionID *uuid.UUID
	At                 time.Time
}

// ExpiryBatch is the set of due earn transactions of one customer to expire together.
type ExpiryBatch struct {
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	TransactionIDs []uuid.UUID
	Now            time.Time
}

// ExpiryResult reports what ExpirePoints actually changed. Transaction is nil when every
// id in the batch had already been expired by another run.
type ExpiryResult struct {
	Transaction    *domain.PointsTransaction
	ExpiredIDs     []uuid.UUID
	NominalPoints  int64
	PointsDeducted int64
}

// ClaimFilter narrows the review queue.
type ClaimFilter struct {
	Status *domain.ClaimStatus
	Limit  int
	Offset int
}

// RedemptionFilter narrows redemption listings.
type RedemptionFilter struct {
	CustomerID *uuid.UUID
	Status     *domain.RedemptionStatus
	Limit      int
	Offset     int
}

// DuplicateClaimQuery identifies a possible double submission.
type DuplicateClaimQuery struct {
	TenantID     uuid.UUID
	CustomerID   uuid.UUID
	AmountMinor  int64
	PurchaseDate time.Time
	Channel      string
	Since        time.Time
}

// Reader holds the read side of the store.
type Reader interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error)

	GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.Customer, error)

	// GetBalance returns a zero balance when the customer has never earned or redeemed.
	GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.CustomerPointsBalance, error)
	ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.PointsTransaction, error)
	// ListDueExpiries returns unexpired earn rows due at now, oldest expiry first, skipping
	// the rows of excludeCustomers.
	ListDueExpiries(ctx context.Context, now time.Time, limit int, excludeCustomers []uuid.UUID) ([]domain.PointsTransaction, error)
	ListExpiringSoon(ctx context.Context, now, until time.Time, limit int) ([]domain.PointsTransaction, error)

	GetPurchase(ctx context.Context, tenantID, purchaseID uuid.UUID) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.Purchase, error)

	GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*domain.Reward, error)
	ListRewards(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]domain.Reward, error)

	GetRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID) (*domain.RewardRedemption, error)
	FindRedemptionByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.RewardRedemption, error)
	FindRedemptionByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.RewardRedemption, error)
	HasPendingRedemption(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (bool, error)
	CountCustomerRedemptions(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (int, error)
	ListRedemptions(ctx context.Context, tenantID uuid.UUID, filter RedemptionFilter) ([]domain.RewardRedemption, error)
	ListStaleRedemptions(ctx context.Context, now time.Time, limit int) ([]domain.RewardRedemption, error)

	GetClaim(ctx context.Context, tenantID, claimID uuid.UUID) (*domain.PurchaseClaim, error)
	ListClaims(ctx context.Context, tenantID uuid.UUID, filter ClaimFilter) ([]domain.PurchaseClaim, error)
	HasRecentDuplicateClaim(ctx context.Context, q DuplicateClaimQuery) (bool, error)
	ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseClaim, error)
}

// Tx is one atomic unit. Everything done through it commits or rolls back together.
type Tx interface {
	Reader

	CreateTenant(ctx context.Context, tenant *domain.Tenant) error
	UpdateTenantSettings(ctx context.Context, tenantID uuid.UUID, settings domain.TenantSettings, at time.Time) error

	CreateCustomer(ctx context.Context, customer *domain.Customer) error
	SetCustomerStatus(ctx context.Context, tenantID, customerID uuid.UUID, status domain.LoyaltyStatus, at time.Time) error
	RecordCustomerPurchase(ctx context.Context, tenantID, customerID uuid.UUID, amountMinor int64, at time.Time) error
	// ReserveClaimSlot bumps the per-day claim counter only while it is below limit.
	ReserveClaimSlot(ctx context.Context, tenantID, customerID uuid.UUID, day string, limit int, at time.Time) error

	CreatePurchase(ctx context.Context, purchase *domain.Purchase) error

	Increment(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error)
	TryDecrement(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error)
	Refund(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error)
	ExpirePoints(ctx context.Context, batch ExpiryBatch) (*ExpiryResult, error)
	StampExpiryWarning(ctx context.Context, transactionIDs []uuid.UUID, at time.Time) (int64, error)

	CreateReward(ctx context.Context, reward *domain.Reward) error
	UpdateReward(ctx context.Context, reward *domain.Reward) error
	SoftDeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error
	ConsumeRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error
	RestoreRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error

	CreateRedemption(ctx context.Context, redemption *domain.RewardRedemption) error
	MarkRedemptionVerified(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, at time.Time) (*domain.RewardRedemption, error)
	FulfillRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, notes *string, at time.Time) (*domain.RewardRedemption, error)
	CancelRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, reason string, at time.Time) (*domain.RewardRedemption, error)
	ExpireRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, at time.Time) (*domain.RewardRedemption, error)
	SetRedemptionRefund(ctx context.Context, tenantID, redemptionID, transactionID uuid.UUID) error

	CreateClaim(ctx context.Context, claim *domain.PurchaseClaim) error
	ApproveClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID string, purchaseID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error)
	RejectClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID, reason string, at time.Time) (*domain.PurchaseClaim, error)
	ExpireClaim(ctx context.Context, tenantID, claimID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error)
}

// Repository is the entry point used by the application layer.
type Repository interface {
	Reader
	// InTx runs fn inside one atomic unit. A non-nil error from fn rolls the unit back.
	// fn must only use the Tx it is given.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func validateEntry(entry LedgerEntry) error {
	if entry.Points <= 0 {
		return domain.ErrInvalidPoints
	}
	if !entry.Type.Valid() {
		return domain.Invalid("transaction_type", "is not a known transaction type")
	}
	return nil
}

func entryTime(entry LedgerEntry) time.Time {
	if entry.At.IsZero() {
		return time.Now().UTC()
	}
	return entry.At
}

func newTransaction(entry LedgerEntry, points int64) *domain.PointsTransaction {
	var expiresAt *time.Time
	if entry.Type.IsEarnType() && entry.ExpiresAt != nil {
		t := *entry.ExpiresAt
		expiresAt = &t
	}
	return &domain.PointsTransaction{
		ID:                 uuid.New(),
		TenantID:           entry.TenantID,
		CustomerID:         entry.CustomerID,
		Type:               entry.Type,
		Points:             points,
		ExpiresAt:          expiresAt,
		Description:        entry.Description,
		Metadata:           cloneMetadata(entry.Metadata),
		PurchaseID:         entry.PurchaseID,
		RewardRedemptionID: entry.RewardRedemptionID,
		CreatedAt:          entryTime(entry),
	}
}

func creditType(t domain.TransactionType) bool {
	switch t {
	case domain.TransactionEarn, domain.TransactionWelcomeBonus, domain.TransactionAdjusted:
		return true
	}
	return false
}

func debitType(t domain.TransactionType) bool {
	return t == domain.TransactionRedeemed || t == domain.TransactionAdjusted
}

func newExpiryTransaction(batch ExpiryBatch, result *ExpiryResult) *domain.PointsTransaction {
	ids := make([]string, 0, len(result.ExpiredIDs))
	for _, id := range result.ExpiredIDs {
		ids = append(ids, id.String())
	}
	return &domain.PointsTransaction{
		ID:          uuid.New(),
		TenantID:    batch.TenantID,
		CustomerID:  batch.CustomerID,
		Type:        domain.TransactionExpiry,
		Description: fmt.Sprintf("%d points expired", result.NominalPoints),
		Metadata: map[string]any{
			domain.MetadataExpiredTransactionIDs: ids,
			domain.MetadataNominalPoints:         result.NominalPoints,
		},
		CreatedAt: batch.Now,
	}
}
