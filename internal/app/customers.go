package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// Enrolment is the outcome of enrolling a customer. Bonus is nil when the tenant has no
// welcome bonus configured.
type Enrolment struct {
	Customer *domain.Customer          `json:"customer"`
	Bonus    *domain.PointsTransaction `json:"welcome_bonus,omitempty"`
}

// AdjustmentInput is a manual correction of a customer's balance by staff. Points is a
// signed delta and must not be zero.
type AdjustmentInput struct {
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	Points     int64
	Reason     string
	UserID     string
}

// EnrolCustomer registers a phone number with the tenant's programme and credits the
// welcome bonus in the same unit.
func (s *Service) EnrolCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (*Enrolment, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, domain.Invalid("phone", "is required")
	}
	settings, err := s.tenants.Settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	customer := &domain.Customer{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Phone:         phone,
		Name:          strings.TrimSpace(name),
		LoyaltyStatus: domain.LoyaltyStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	enrolment := &Enrolment{Customer: customer}
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		if settings.WelcomeBonusPoints <= 0 {
			return nil
		}
		bonus, err := tx.Increment(ctx, store.LedgerEntry{
			TenantID:    tenantID,
			CustomerID:  customer.ID,
			Type:        domain.TransactionWelcomeBonus,
			Points:      settings.WelcomeBonusPoints,
			Description: "Welcome bonus",
			ExpiresAt:   settings.PointsExpiry(now),
			At:          now,
		})
		if err != nil {
			return fmt.Errorf("failed to credit welcome bonus: %w", err)
		}
		enrolment.Bonus = bonus
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer enrolled", "tenant_id", tenantID, "customer_id", customer.ID)
	if enrolment.Bonus != nil {
		s.notify(ctx, domain.EventWelcomeBonus, tenantID, customer.ID, map[string]any{
			"points":          enrolment.Bonus.Points,
			"current_balance": enrolment.Bonus.Points,
		})
	}
	return enrolment, nil
}

// GetCustomer returns one customer of the tenant.
func (s *Service) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error) {
	return s.repo.GetCustomer(ctx, tenantID, customerID)
}

// FindCustomerByPhone looks a customer up by phone number.
func (s *Service) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*domain.Customer, error) {
	return s.repo.FindCustomerByPhone(ctx, tenantID, normalizePhone(phone))
}

// ListCustomers returns the tenant's customers, oldest first.
func (s *Service) ListCustomers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, tenantID, limit, offset)
}

// SetCustomerBlocked blocks or unblocks a customer. Blocked customers keep their balance
// but earn nothing, cannot claim and cannot redeem.
func (s *Service) SetCustomerBlocked(ctx context.Context, tenantID, customerID uuid.UUID, blocked bool) (*domain.Customer, error) {
	status := domain.LoyaltyStatusActive
	if blocked {
		status = domain.LoyaltyStatusBlocked
	}
	var updated *domain.Customer
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetCustomerStatus(ctx, tenantID, customerID, status, s.clock()); err != nil {
			return err
		}
		var err error
		updated, err = tx.GetCustomer(ctx, tenantID, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("customer status changed", "tenant_id", tenantID, "customer_id", customerID, "status", status)
	return updated, nil
}

// GetBalance returns the customer's balance. Customers who never earned have a zero balance.
func (s *Service) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.CustomerPointsBalance, error) {
	if _, err := s.repo.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	return s.repo.GetBalance(ctx, tenantID, customerID)
}

// ListTransactions returns the customer's ledger rows, newest first.
func (s *Service) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.PointsTransaction, error) {
	if _, err := s.repo.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, tenantID, customerID, limit, offset)
}

// AdjustPoints applies a manual correction. Debits use the same guarded decrement as
// redemptions and fail with ErrInsufficientPoints rather than overdrawing.
func (s *Service) AdjustPoints(ctx context.Context, in AdjustmentInput) (*domain.PointsTransaction, error) {
	if in.Points == 0 {
		return nil, domain.ErrInvalidPoints
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, domain.Invalid("reason", "is required")
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}

	now := s.clock()
	entry := store.LedgerEntry{
		TenantID:    in.TenantID,
		CustomerID:  in.CustomerID,
		Type:        domain.TransactionAdjusted,
		Points:      in.Points,
		Description: "Manual adjustment: " + reason,
		Metadata: map[string]any{
			domain.MetadataReason:           reason,
			domain.MetadataAdjustedByUserID: userID,
		},
		At: now,
	}

	var txn *domain.PointsTransaction
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, in.TenantID, in.CustomerID); err != nil {
			return err
		}
		var err error
		if in.Points > 0 {
			txn, err = tx.Increment(ctx, entry)
			return err
		}
		entry.Points = -in.Points
		txn, err = tx.TryDecrement(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("points adjusted", "tenant_id", in.TenantID, "customer_id", in.CustomerID, "points", in.Points, "adjusted_by", userID)
	return txn, nil
}

// normalizePhone strips formatting characters so the same number always matches.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	b.Grow(len(phone))
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
