package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

const (
	redemptionCodePrefix = "RDM-"
	redemptionCodeLength = 8
	// No 0/O, 1/I/L: codes are read aloud and typed by staff.
	redemptionCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// RedeemInput is a customer's request to spend points on a reward.
type RedeemInput struct {
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	RewardID       uuid.UUID
	IdempotencyKey string
}

// RedeemResult is the redemption created or replayed. Replayed is true when the
// idempotency key matched an earlier request and nothing was deducted this time.
type RedeemResult struct {
	Redemption  *domain.RewardRedemption      `json:"redemption"`
	Transaction *domain.PointsTransaction     `json:"transaction,omitempty"`
	Balance     *domain.CustomerPointsBalance `json:"balance,omitempty"`
	Replayed    bool                          `json:"replayed"`
}

// RedeemReward deducts the reward's points and creates a pending redemption with a fresh
// code. Balance, stock and the redemption row change in one atomic unit.
func (s *Service) RedeemReward(ctx context.Context, in RedeemInput) (*RedeemResult, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindRedemptionByIdempotencyKey(ctx, in.TenantID, key)
		if err == nil {
			return replayRedemption(existing, in)
		}
		if !errors.Is(err, domain.ErrRedemptionNotFound) {
			return nil, err
		}
	}

	blocked, err := s.tenants.IsBlocked(ctx, in.TenantID, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.ErrCustomerBlocked
	}

	var result *RedeemResult
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, codeErr := newRedemptionCode()
		if codeErr != nil {
			return nil, codeErr
		}
		result, err = s.redeemOnce(ctx, in, key, code)
		if errors.Is(err, store.ErrDuplicateRedemptionCode) {
			s.logger.Warn("redemption code collision; retrying", "tenant_id", in.TenantID, "attempt", attempt)
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won the race.
			existing, findErr := s.repo.FindRedemptionByIdempotencyKey(ctx, in.TenantID, key)
			if findErr != nil {
				return nil, findErr
			}
			return replayRedemption(existing, in)
		}
		return nil, err
	}

	rd := result.Redemption
	s.logger.Info("reward redeemed",
		"tenant_id", in.TenantID,
		"customer_id", in.CustomerID,
		"reward_id", in.RewardID,
		"redemption_id", rd.ID,
		"points", rd.PointsDeducted,
	)
	s.notify(ctx, domain.EventRedemptionCreated, in.TenantID, in.CustomerID, map[string]any{
		"redemption_id":   rd.ID,
		"redemption_code": rd.RedemptionCode,
		"reward_id":       rd.RewardID,
		"points_deducted": rd.PointsDeducted,
		"expires_at":      rd.ExpiresAt,
		"current_balance": result.Balance.CurrentBalance,
	})
	return result, nil
}

func (s *Service) redeemOnce(ctx context.Context, in RedeemInput, key, code string) (*RedeemResult, error) {
	now := s.clock()
	var result *RedeemResult
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		reward, err := tx.GetReward(ctx, in.TenantID, in.RewardID)
		if err != nil {
			return err
		}
		if err := reward.CheckAvailable(now); err != nil {
			return err
		}

		pending, err := tx.HasPendingRedemption(ctx, in.TenantID, in.CustomerID, in.RewardID)
		if err != nil {
			return err
		}
		if pending {
			return domain.ErrRedemptionAlreadyActive
		}
		if reward.MaxRedemptionsPerCustomer != nil {
			count, err := tx.CountCustomerRedemptions(ctx, in.TenantID, in.CustomerID, in.RewardID)
			if err != nil {
				return err
			}
			if count >= *reward.MaxRedemptionsPerCustomer {
				return domain.ErrRedemptionLimitReached
			}
		}

		rd := &domain.RewardRedemption{
			ID:             uuid.New(),
			TenantID:       in.TenantID,
			CustomerID:     in.CustomerID,
			RewardID:       in.RewardID,
			RedemptionCode: code,
			PointsDeducted: reward.PointsRequired,
			Status:         domain.RedemptionPending,
			ExpiresAt:      now.Add(domain.RedemptionLifetime),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if key != "" {
			rd.IdempotencyKey = &key
		}
		if err := tx.CreateRedemption(ctx, rd); err != nil {
			if errors.Is(err, store.ErrDuplicatePendingRedemption) {
				return domain.ErrRedemptionAlreadyActive
			}
			return err
		}

		redemptionID := rd.ID
		txn, err := tx.TryDecrement(ctx, store.LedgerEntry{
			TenantID:           in.TenantID,
			CustomerID:         in.CustomerID,
			Type:               domain.TransactionRedeemed,
			Points:             reward.PointsRequired,
			Description:        fmt.Sprintf("Redeemed %s (%s)", reward.Name, code),
			RewardRedemptionID: &redemptionID,
			At:                 now,
		})
		if err != nil {
			return err
		}
		if err := tx.ConsumeRewardStock(ctx, in.TenantID, in.RewardID, now); err != nil {
			return err
		}

		balance, err := tx.GetBalance(ctx, in.TenantID, in.CustomerID)
		if err != nil {
			return err
		}
		result = &RedeemResult{Redemption: rd, Transaction: txn, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func replayRedemption(existing *domain.RewardRedemption, in RedeemInput) (*RedeemResult, error) {
	if existing.CustomerID != in.CustomerID || existing.RewardID != in.RewardID {
		return nil, domain.ErrIdempotencyKeyMismatch
	}
	return &RedeemResult{Redemption: existing, Replayed: true}, nil
}

// VerifyRedemption is the staff-side lookup of a presented code. A code past its lifetime
// is expired on the spot and ErrRedemptionExpired is returned.
func (s *Service) VerifyRedemption(ctx context.Context, tenantID uuid.UUID, code, userID string) (*domain.RewardRedemption, error) {
	code = normalizeRedemptionCode(code)
	if code == "" {
		return nil, domain.Invalid("redemption_code", "is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	existing, err := s.repo.FindRedemptionByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}

	var verified *domain.RewardRedemption
	err = s.transitionOpenRedemption(ctx, tenantID, existing.ID, func(tx store.Tx, now time.Time) error {
		var err error
		verified, err = tx.MarkRedemptionVerified(ctx, tenantID, existing.ID, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("redemption verified", "tenant_id", tenantID, "redemption_id", verified.ID, "verified_by", userID)
	return verified, nil
}

// FulfillRedemption hands the reward over. A second call fails with ErrAlreadyFulfilled.
func (s *Service) FulfillRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, notes string) (*domain.RewardRedemption, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	var notesPtr *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		notesPtr = &trimmed
	}

	var fulfilled *domain.RewardRedemption
	err := s.transitionOpenRedemption(ctx, tenantID, redemptionID, func(tx store.Tx, now time.Time) error {
		var err error
		fulfilled, err = tx.FulfillRedemption(ctx, tenantID, redemptionID, userID, notesPtr, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("redemption fulfilled", "tenant_id", tenantID, "redemption_id", redemptionID, "fulfilled_by", userID)
	s.notify(ctx, domain.EventRedemptionFulfilled, tenantID, fulfilled.CustomerID, map[string]any{
		"redemption_id":   fulfilled.ID,
		"redemption_code": fulfilled.RedemptionCode,
		"reward_id":       fulfilled.RewardID,
	})
	return fulfilled, nil
}

// CancelRedemption voids an open redemption, refunds its points and puts the stock back.
func (s *Service) CancelRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, reason string) (*domain.RewardRedemption, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}

	var cancelled *domain.RewardRedemption
	err := s.transitionOpenRedemption(ctx, tenantID, redemptionID, func(tx store.Tx, now time.Time) error {
		rd, err := tx.CancelRedemption(ctx, tenantID, redemptionID, reason, now)
		if err != nil {
			return err
		}
		refund, err := s.refundRedemption(ctx, tx, rd, fmt.Sprintf("Refund for cancelled redemption %s", rd.RedemptionCode), reason, now)
		if err != nil {
			return err
		}
		rd.RefundTransactionID = &refund.ID
		cancelled = rd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("redemption cancelled", "tenant_id", tenantID, "redemption_id", redemptionID, "points_refunded", cancelled.PointsDeducted)
	s.notify(ctx, domain.EventRedemptionCancelled, tenantID, cancelled.CustomerID, map[string]any{
		"redemption_id":   cancelled.ID,
		"redemption_code": cancelled.RedemptionCode,
		"points_refunded": cancelled.PointsDeducted,
		"reason":          reason,
	})
	return cancelled, nil
}

// transitionOpenRedemption loads the redemption inside one unit, maps its state to the
// matching domain error and runs apply when it is still open. A redemption past its
// lifetime is expired in its own committed unit and ErrRedemptionExpired is returned.
func (s *Service) transitionOpenRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, apply func(tx store.Tx, now time.Time) error) error {
	now := s.clock()
	var expired *domain.RewardRedemption
	var refunded bool
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		rd, err := tx.GetRedemption(ctx, tenantID, redemptionID)
		if err != nil {
			return err
		}
		if err := closedRedemptionError(rd); err != nil {
			return err
		}
		if rd.PastDue(now) {
			expired, refunded, err = s.expireRedemptionTx(ctx, tx, rd, now)
			return err
		}
		if err := apply(tx, now); err != nil {
			if errors.Is(err, store.ErrStateConflict) {
				return redemptionConflict(ctx, tx, tenantID, redemptionID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expired != nil {
		s.afterRedemptionExpired(ctx, expired, refunded)
		return domain.ErrRedemptionExpired
	}
	return nil
}

// redemptionConflict re-reads a redemption whose guarded update matched no rows and
// returns the error that explains its current state.
func redemptionConflict(ctx context.Context, r store.Reader, tenantID, redemptionID uuid.UUID) error {
	rd, err := r.GetRedemption(ctx, tenantID, redemptionID)
	if err != nil {
		return err
	}
	if err := closedRedemptionError(rd); err != nil {
		return err
	}
	return domain.ErrRedemptionNotActive
}

func closedRedemptionError(rd *domain.RewardRedemption) error {
	switch rd.Status {
	case domain.RedemptionFulfilled:
		return domain.ErrAlreadyFulfilled
	case domain.RedemptionExpired:
		return domain.ErrRedemptionExpired
	case domain.RedemptionCancelled:
		return domain.ErrRedemptionNotActive
	}
	return nil
}

// expireRedemptionTx moves a past-due redemption to expired, restores stock and, when the
// refund policy is on, returns the deducted points.
func (s *Service) expireRedemptionTx(ctx context.Context, tx store.Tx, rd *domain.RewardRedemption, now time.Time) (*domain.RewardRedemption, bool, error) {
	expired, err := tx.ExpireRedemption(ctx, rd.TenantID, rd.ID, now)
	if err != nil {
		return nil, false, err
	}
	if !s.redemptionExpiryRefund {
		if err := tx.RestoreRewardStock(ctx, rd.TenantID, rd.RewardID, now); err != nil {
			return nil, false, err
		}
		return expired, false, nil
	}
	refund, err := s.refundRedemption(ctx, tx, expired, fmt.Sprintf("Refund for expired redemption %s", expired.RedemptionCode), "expired", now)
	if err != nil {
		return nil, false, err
	}
	expired.RefundTransactionID = &refund.ID
	return expired, true, nil
}

// refundRedemption credits the deducted points back, links the refund row to the
// redemption and restores the reward's stock.
func (s *Service) refundRedemption(ctx context.Context, tx store.Tx, rd *domain.RewardRedemption, description, reason string, now time.Time) (*domain.PointsTransaction, error) {
	redemptionID := rd.ID
	refund, err := tx.Refund(ctx, store.LedgerEntry{
		TenantID:           rd.TenantID,
		CustomerID:         rd.CustomerID,
		Points:             rd.PointsDeducted,
		Description:        description,
		Metadata:           map[string]any{domain.MetadataReason: reason},
		RewardRedemptionID: &redemptionID,
		At:                 now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund redemption: %w", err)
	}
	if err := tx.SetRedemptionRefund(ctx, rd.TenantID, rd.ID, refund.ID); err != nil {
		return nil, err
	}
	if err := tx.RestoreRewardStock(ctx, rd.TenantID, rd.RewardID, now); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Service) afterRedemptionExpired(ctx context.Context, rd *domain.RewardRedemption, refunded bool) {
	s.logger.Info("redemption expired", "tenant_id", rd.TenantID, "redemption_id", rd.ID, "refunded", refunded)
	payload := map[string]any{
		"redemption_id":   rd.ID,
		"redemption_code": rd.RedemptionCode,
		"points_refunded": int64(0),
	}
	if refunded {
		payload["points_refunded"] = rd.PointsDeducted
	}
	s.notify(ctx, domain.EventRedemptionExpired, rd.TenantID, rd.CustomerID, payload)
}

// GetRedemption returns one redemption of the tenant.
func (s *Service) GetRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID) (*domain.RewardRedemption, error) {
	return s.repo.GetRedemption(ctx, tenantID, redemptionID)
}

// ListRedemptions returns the tenant's redemptions, newest first.
func (s *Service) ListRedemptions(ctx context.Context, tenantID uuid.UUID, filter store.RedemptionFilter) ([]domain.RewardRedemption, error) {
	return s.repo.ListRedemptions(ctx, tenantID, filter)
}

func newRedemptionCode() (string, error) {
	var b strings.Builder
	b.Grow(len(redemptionCodePrefix) + redemptionCodeLength)
	b.WriteString(redemptionCodePrefix)
	alphabetSize := big.NewInt(int64(len(redemptionCodeAlphabet)))
	for i := 0; i < redemptionCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate redemption code: %w", err)
		}
		b.WriteByte(redemptionCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// normalizeRedemptionCode accepts a code with its prefix, with the prefix missing its dash
// or as the bare body.
func normalizeRedemptionCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	bare := strings.TrimSuffix(redemptionCodePrefix, "-")
	switch {
	case code == "", strings.HasPrefix(code, redemptionCodePrefix):
		return code
	case len(code) == len(bare)+redemptionCodeLength && strings.HasPrefix(code, bare):
		return redemptionCodePrefix + code[len(bare):]
	}
	return redemptionCodePrefix + code
}
