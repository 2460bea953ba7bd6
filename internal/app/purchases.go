package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/loyalty"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// RecordPurchaseInput describes a purchase entered by staff or a point-of-sale integration.
type RecordPurchaseInput struct {
	TenantID    uuid.UUID
	CustomerID  uuid.UUID
	AmountMinor int64
	// PointsOverride replaces the computed points when set.
	PointsOverride   *int64
	PurchaseDate     time.Time
	Description      string
	Source           domain.PurchaseSource
	RecordedByUserID string
	// ExternalRef makes the purchase idempotent per tenant (e.g. a POS receipt id).
	ExternalRef string
}

// PurchaseResult is what a recorded purchase changed. Transaction is nil when no points
// were awarded.
type PurchaseResult struct {
	Purchase    *domain.Purchase              `json:"purchase"`
	Transaction *domain.PointsTransaction     `json:"transaction,omitempty"`
	Balance     *domain.CustomerPointsBalance `json:"balance"`
}

// RecordPurchase stores the purchase and awards points for it. Blocked customers still
// get the purchase recorded but earn nothing.
func (s *Service) RecordPurchase(ctx context.Context, in RecordPurchaseInput) (*PurchaseResult, error) {
	now := s.clock()
	if in.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.PointsOverride != nil && *in.PointsOverride < 0 {
		return nil, domain.Invalid("points_override", "must not be negative")
	}
	purchaseDate := in.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = now
	}
	if purchaseDate.After(now) {
		return nil, domain.ErrFutureDatedPurchase
	}
	source := in.Source
	if source == "" {
		source = domain.PurchaseSourceManual
	}

	settings, err := s.tenants.Settings(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	currency, err := s.tenants.GetCurrency(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.tenants.IsBlocked(ctx, in.TenantID, in.CustomerID)
	if err != nil {
		return nil, err
	}

	purchase := &domain.Purchase{
		ID:           uuid.New(),
		TenantID:     in.TenantID,
		CustomerID:   in.CustomerID,
		AmountMinor:  in.AmountMinor,
		Currency:     currency,
		Source:       source,
		PurchaseDate: purchaseDate.UTC(),
		Description:  strings.TrimSpace(in.Description),
		CreatedAt:    now,
	}
	if userID := strings.TrimSpace(in.RecordedByUserID); userID != "" {
		purchase.RecordedByUserID = &userID
	}
	if ref := strings.TrimSpace(in.ExternalRef); ref != "" {
		purchase.ExternalRef = &ref
	}

	var result *PurchaseResult
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		points := loyalty.PointsEarnedMinor(in.AmountMinor, currency)
		if in.PointsOverride != nil {
			points = *in.PointsOverride
		}
		txn, err := s.awardPurchase(ctx, tx, settings, blocked, purchase, points, now)
		if err != nil {
			return err
		}
		balance, err := tx.GetBalance(ctx, in.TenantID, in.CustomerID)
		if err != nil {
			return err
		}
		result = &PurchaseResult{Purchase: purchase, Transaction: txn, Balance: balance}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePurchaseRef) {
			return nil, domain.ErrPurchaseAlreadyRecorded
		}
		return nil, err
	}

	s.logger.Info("purchase recorded",
		"tenant_id", in.TenantID,
		"customer_id", in.CustomerID,
		"purchase_id", purchase.ID,
		"source", source,
		"points", purchase.PointsEarned,
	)
	s.notify(ctx, domain.EventPurchaseRecorded, in.TenantID, in.CustomerID, map[string]any{
		"purchase_id":     purchase.ID,
		"amount_minor":    purchase.AmountMinor,
		"currency":        purchase.Currency,
		"points_earned":   purchase.PointsEarned,
		"current_balance": result.Balance.CurrentBalance,
	})
	return result, nil
}

// awardPurchase writes the purchase, bumps the customer's purchase counters and credits
// the earned points inside tx. Blocked customers are recorded with zero points and the
// points pipeline is skipped.
func (s *Service) awardPurchase(ctx context.Context, tx store.Tx, settings domain.TenantSettings, blocked bool, purchase *domain.Purchase, points int64, now time.Time) (*domain.PointsTransaction, error) {
	if blocked {
		points = 0
	}
	purchase.PointsEarned = points

	if err := tx.CreatePurchase(ctx, purchase); err != nil {
		return nil, err
	}
	if err := tx.RecordCustomerPurchase(ctx, purchase.TenantID, purchase.CustomerID, purchase.AmountMinor, purchase.PurchaseDate); err != nil {
		return nil, err
	}
	if points == 0 {
		return nil, nil
	}

	purchaseID := purchase.ID
	txn, err := tx.Increment(ctx, store.LedgerEntry{
		TenantID:    purchase.TenantID,
		CustomerID:  purchase.CustomerID,
		Type:        domain.TransactionEarn,
		Points:      points,
		Description: purchaseDescription(purchase),
		ExpiresAt:   settings.PointsExpiry(now),
		PurchaseID:  &purchaseID,
		At:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit purchase points: %w", err)
	}
	return txn, nil
}

func purchaseDescription(p *domain.Purchase) string {
	amount := loyalty.ToMajor(p.AmountMinor, p.Currency)
	if p.Description != "" {
		return fmt.Sprintf("Points earned on %s %s purchase: %s", amount.StringFixed(loyalty.MinorUnitExponent(p.Currency)), p.Currency, p.Description)
	}
	return fmt.Sprintf("Points earned on %s %s purchase", amount.StringFixed(loyalty.MinorUnitExponent(p.Currency)), p.Currency)
}

// ListPurchases returns a customer's purchases, newest first.
func (s *Service) ListPurchases(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.Purchase, error) {
	if _, err := s.repo.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx, tenantID, customerID, limit, offset)
}
