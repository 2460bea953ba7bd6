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

// SubmitClaimInput is a customer's assertion that they made a purchase. When TenantID is
// not set, the tenant is resolved from the chat identity's active session.
type SubmitClaimInput struct {
	TenantID     uuid.UUID
	Identity     string
	Phone        string
	AmountMinor  int64
	PurchaseDate time.Time
	Channel      string
	ReceiptURL   string
}

// ClaimApproval is the outcome of approving a claim.
type ClaimApproval struct {
	Claim       *domain.PurchaseClaim     `json:"claim"`
	Purchase    *domain.Purchase          `json:"purchase"`
	Transaction *domain.PointsTransaction `json:"transaction,omitempty"`
}

// SubmitClaim validates and stores a pending purchase claim.
func (s *Service) SubmitClaim(ctx context.Context, in SubmitClaimInput) (*domain.PurchaseClaim, error) {
	now := s.clock()

	tenantID := in.TenantID
	if tenantID == uuid.Nil {
		resolved, err := s.sessions.ActiveTenant(ctx, in.Identity)
		if err != nil {
			return nil, err
		}
		tenantID = resolved
	}

	phone := normalizePhone(in.Phone)
	if phone == "" {
		return nil, domain.Invalid("phone", "is required")
	}
	if in.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.PurchaseDate.IsZero() {
		return nil, domain.Invalid("purchase_date", "is required")
	}
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	if channel == "" {
		channel = defaultClaimSource
	}

	settings, err := s.tenants.Settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	currency, err := s.tenants.GetCurrency(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc := settings.Location()
	purchaseDay := writtenDate(in.PurchaseDate, loc)
	today := calendarDay(now, loc)
	if purchaseDay.After(today) {
		return nil, domain.ErrFutureDatedPurchase
	}
	if purchaseDay.AddDate(0, 0, domain.ClaimMaxPurchaseAgeDays).Before(today) {
		return nil, domain.ErrClaimWindowElapsed
	}

	customer, err := s.repo.FindCustomerByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	blocked, err := s.tenants.IsBlocked(ctx, tenantID, customer.ID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.ErrCustomerBlocked
	}

	if err := s.checkClaimBurst(ctx, tenantID, customer.ID); err != nil {
		return nil, err
	}

	claim := &domain.PurchaseClaim{
		ID:           uuid.New(),
		TenantID:     tenantID,
		CustomerID:   customer.ID,
		Phone:        phone,
		AmountMinor:  in.AmountMinor,
		Currency:     currency,
		PurchaseDate: purchaseDay,
		Channel:      channel,
		ReceiptURL:   strings.TrimSpace(in.ReceiptURL),
		Status:       domain.ClaimStatusPending,
		ExpiresAt:    now.Add(domain.ClaimProcessingWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The slot reservation updates the customer row, so concurrent submissions by the
	// same customer serialise on it before the duplicate check runs.
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.ReserveClaimSlot(ctx, tenantID, customer.ID, today.Format("2006-01-02"), domain.ClaimDailyLimit, now); err != nil {
			return err
		}
		duplicate, err := tx.HasRecentDuplicateClaim(ctx, store.DuplicateClaimQuery{
			TenantID:     tenantID,
			CustomerID:   customer.ID,
			AmountMinor:  claim.AmountMinor,
			PurchaseDate: claim.PurchaseDate,
			Channel:      claim.Channel,
			Since:        now.Add(-domain.ClaimDuplicateWindow),
		})
		if err != nil {
			return err
		}
		if duplicate {
			return domain.ErrDuplicateClaim
		}
		return tx.CreateClaim(ctx, claim)
	})
	if err != nil {
		if errors.Is(err, store.ErrClaimLimitReached) {
			return nil, &domain.RateLimitError{
				Limit:      domain.ClaimDailyLimit,
				RetryAfter: calendarDay(now, loc).AddDate(0, 0, 1).Sub(now.In(loc)),
				Message:    fmt.Sprintf("you can submit at most %d purchase claims per day", domain.ClaimDailyLimit),
			}
		}
		return nil, err
	}

	s.logger.Info("claim submitted", "tenant_id", tenantID, "customer_id", customer.ID, "claim_id", claim.ID, "channel", channel)
	s.notify(ctx, domain.EventClaimSubmitted, tenantID, customer.ID, map[string]any{
		"claim_id":      claim.ID,
		"amount_minor":  claim.AmountMinor,
		"currency":      claim.Currency,
		"purchase_date": claim.PurchaseDate.Format("2006-01-02"),
		"expires_at":    claim.ExpiresAt,
	})
	return claim, nil
}

// checkClaimBurst applies the optional per-minute limiter. Limiter outages fail open since
// the daily cap is still enforced by the store.
func (s *Service) checkClaimBurst(ctx context.Context, tenantID, customerID uuid.UUID) error {
	if s.limiter == nil || s.claimSubmitLimit <= 0 {
		return nil
	}
	subject := tenantID.String() + ":" + customerID.String()
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, claimSubmitScope, subject, s.claimSubmitLimit, claimSubmitWindow)
	if err != nil {
		s.logger.Warn("claim burst limiter unavailable", "tenant_id", tenantID, "customer_id", customerID, "error", err)
		return nil
	}
	if count > s.claimSubmitLimit {
		return &domain.RateLimitError{
			Limit:      s.claimSubmitLimit,
			RetryAfter: time.Duration(retryAfter) * time.Second,
			Message:    "too many claim submissions, please wait a moment and try again",
		}
	}
	return nil
}

// ApproveClaim materialises the claim as a purchase and credits its points. Points are
// computed with the tenant's currency at review time.
func (s *Service) ApproveClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID string) (*ClaimApproval, error) {
	now := s.clock()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	settings, err := s.tenants.Settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	currency, err := s.tenants.GetCurrency(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.tenants.IsBlocked(ctx, tenantID, pending.CustomerID)
	if err != nil {
		return nil, err
	}

	var approval *ClaimApproval
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		claim, err := tx.GetClaim(ctx, tenantID, claimID)
		if err != nil {
			return err
		}
		if claim.Status != domain.ClaimStatusPending {
			return domain.ErrClaimAlreadyReviewed
		}
		if !now.Before(claim.ExpiresAt) {
			return domain.ErrClaimExpired
		}

		claimRef := claim.ID
		purchase := &domain.Purchase{
			ID:               uuid.New(),
			TenantID:         tenantID,
			CustomerID:       claim.CustomerID,
			AmountMinor:      claim.AmountMinor,
			Currency:         currency,
			Source:           domain.PurchaseSourceClaim,
			PurchaseDate:     claim.PurchaseDate,
			Description:      "Approved purchase claim via " + claim.Channel,
			ClaimID:          &claimRef,
			RecordedByUserID: &userID,
			CreatedAt:        now,
		}
		points := loyalty.PointsEarnedMinor(claim.AmountMinor, currency)
		txn, err := s.awardPurchase(ctx, tx, settings, blocked, purchase, points, now)
		if err != nil {
			return err
		}

		approved, err := tx.ApproveClaim(ctx, tenantID, claimID, userID, purchase.ID, now)
		if err != nil {
			if errors.Is(err, store.ErrStateConflict) {
				return domain.ErrClaimAlreadyReviewed
			}
			return err
		}
		approval = &ClaimApproval{Claim: approved, Purchase: purchase, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("claim approved",
		"tenant_id", tenantID,
		"claim_id", claimID,
		"purchase_id", approval.Purchase.ID,
		"points", approval.Purchase.PointsEarned,
		"approved_by", userID,
	)
	s.notify(ctx, domain.EventClaimApproved, tenantID, approval.Claim.CustomerID, map[string]any{
		"claim_id":      claimID,
		"purchase_id":   approval.Purchase.ID,
		"points_earned": approval.Purchase.PointsEarned,
	})
	return approval, nil
}

// RejectClaim closes the claim without any ledger effect. A reason is mandatory.
func (s *Service) RejectClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID, reason string) (*domain.PurchaseClaim, error) {
	now := s.clock()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrRejectionReasonMissing
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}

	var rejected *domain.PurchaseClaim
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		rejected, err = tx.RejectClaim(ctx, tenantID, claimID, userID, reason, now)
		if errors.Is(err, store.ErrStateConflict) {
			return domain.ErrClaimAlreadyReviewed
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("claim rejected", "tenant_id", tenantID, "claim_id", claimID, "rejected_by", userID)
	s.notify(ctx, domain.EventClaimRejected, tenantID, rejected.CustomerID, map[string]any{
		"claim_id": claimID,
		"reason":   reason,
	})
	return rejected, nil
}

// GetClaim returns one claim of the tenant.
func (s *Service) GetClaim(ctx context.Context, tenantID, claimID uuid.UUID) (*domain.PurchaseClaim, error) {
	return s.repo.GetClaim(ctx, tenantID, claimID)
}

// ListClaims returns the tenant's claims, oldest first, optionally filtered by status.
func (s *Service) ListClaims(ctx context.Context, tenantID uuid.UUID, filter store.ClaimFilter) ([]domain.PurchaseClaim, error) {
	return s.repo.ListClaims(ctx, tenantID, filter)
}

// writtenDate keeps the year, month and day of t as written and places that date at
// midnight in loc.
func writtenDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// calendarDay truncates t to midnight of its calendar date in loc.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
