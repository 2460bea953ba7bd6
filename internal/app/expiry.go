package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// maxSweepPasses bounds one sweep run so a steady stream of new work cannot keep it going.
const maxSweepPasses = 100

// ExpirySummary reports one points expiry run.
type ExpirySummary struct {
	Customers         int   `json:"customers"`
	TransactionsFound int   `json:"transactions_found"`
	PointsExpired     int64 `json:"points_expired"`
	Failures          int   `json:"failures"`
}

// WarningSummary reports one expiry warning run.
type WarningSummary struct {
	Customers        int `json:"customers"`
	TransactionsSeen int `json:"transactions_seen"`
	Warned           int `json:"warned"`
	Failures         int `json:"failures"`
}

// SweepSummary reports a stale redemption or claim sweep.
type SweepSummary struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Refunded int `json:"refunded,omitempty"`
	Failures int `json:"failures"`
}

// tenantSettingsCache memoises tenant settings for the duration of one sweep.
type tenantSettingsCache struct {
	provider TenantConfigProvider
	entries  map[uuid.UUID]domain.TenantSettings
}

func newTenantSettingsCache(provider TenantConfigProvider) *tenantSettingsCache {
	return &tenantSettingsCache{provider: provider, entries: make(map[uuid.UUID]domain.TenantSettings)}
}

func (c *tenantSettingsCache) get(ctx context.Context, tenantID uuid.UUID) (domain.TenantSettings, error) {
	if settings, ok := c.entries[tenantID]; ok {
		return settings, nil
	}
	settings, err := c.provider.Settings(ctx, tenantID)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	c.entries[tenantID] = settings
	return settings, nil
}

// EnforcePointsExpiry expires every earn transaction whose expiry date has passed. Each
// customer's due rows are expired in one unit; rows already expired by a concurrent run are
// skipped by the store, so points are never deducted twice. A customer whose unit fails is
// left out of the following reads so the rest of the backlog still drains.
func (s *Service) EnforcePointsExpiry(ctx context.Context, batchSize int) (*ExpirySummary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := s.clock()
	summary := &ExpirySummary{}
	var failed []uuid.UUID

	for pass := 0; pass < maxSweepPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		due, err := s.repo.ListDueExpiries(ctx, now, batchSize, failed)
		if err != nil {
			return summary, err
		}
		if len(due) == 0 {
			break
		}
		summary.TransactionsFound += len(due)

		progressed := false
		order, groups := domain.GroupByCustomer(due)
		for _, key := range order {
			ids := make([]uuid.UUID, 0, len(groups[key]))
			for _, t := range groups[key] {
				ids = append(ids, t.ID)
			}

			var result *store.ExpiryResult
			err := s.repo.InTx(ctx, func(tx store.Tx) error {
				var err error
				result, err = tx.ExpirePoints(ctx, store.ExpiryBatch{
					TenantID:       key.TenantID,
					CustomerID:     key.CustomerID,
					TransactionIDs: ids,
					Now:            now,
				})
				return err
			})
			if err != nil {
				failed = append(failed, key.CustomerID)
				progressed = true
				summary.Failures++
				s.logger.Error("failed to expire points", "tenant_id", key.TenantID, "customer_id", key.CustomerID, "error", err)
				continue
			}
			if len(result.ExpiredIDs) == 0 {
				continue
			}
			progressed = true
			summary.Customers++
			summary.PointsExpired += result.PointsDeducted

			s.logger.Info("points expired",
				"tenant_id", key.TenantID,
				"customer_id", key.CustomerID,
				"transactions", len(result.ExpiredIDs),
				"nominal_points", result.NominalPoints,
				"points_deducted", result.PointsDeducted,
			)
			s.notify(ctx, domain.EventPointsExpired, key.TenantID, key.CustomerID, map[string]any{
				"points_expired": result.PointsDeducted,
				"transactions":   len(result.ExpiredIDs),
			})
		}
		if !progressed || len(due) < batchSize {
			break
		}
	}
	return summary, nil
}

// SendExpiryWarnings notifies customers whose points expire within their tenant's warning
// window. Each earn transaction is warned about at most once. The scan never looks further
// ahead than the service's warning lookahead; tenants with a zero window get no warnings.
func (s *Service) SendExpiryWarnings(ctx context.Context, batchSize int) (*WarningSummary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := s.clock()
	summary := &WarningSummary{}

	expiring, err := s.repo.ListExpiringSoon(ctx, now, now.Add(s.warningLookahead), batchSize)
	if err != nil {
		return summary, err
	}
	summary.TransactionsSeen = len(expiring)

	settings := newTenantSettingsCache(s.tenants)
	order, groups := domain.GroupByCustomer(expiring)
	for _, key := range order {
		tenantSettings, err := settings.get(ctx, key.TenantID)
		if err != nil {
			summary.Failures++
			s.logger.Warn("skipping expiry warnings; tenant settings unavailable", "tenant_id", key.TenantID, "error", err)
			continue
		}
		if tenantSettings.ExpiryWarningDays <= 0 {
			continue
		}
		horizon := now.AddDate(0, 0, tenantSettings.ExpiryWarningDays)

		var ids []uuid.UUID
		var points int64
		var earliest time.Time
		for _, t := range groups[key] {
			if t.ExpiresAt == nil || t.ExpiresAt.After(horizon) {
				continue
			}
			ids = append(ids, t.ID)
			points += t.Points
			if earliest.IsZero() || t.ExpiresAt.Before(earliest) {
				earliest = *t.ExpiresAt
			}
		}
		if len(ids) == 0 {
			continue
		}

		var stamped int64
		err = s.repo.InTx(ctx, func(tx store.Tx) error {
			var err error
			stamped, err = tx.StampExpiryWarning(ctx, ids, now)
			return err
		})
		if err != nil {
			summary.Failures++
			s.logger.Error("failed to stamp expiry warning", "tenant_id", key.TenantID, "customer_id", key.CustomerID, "error", err)
			continue
		}
		if stamped == 0 {
			continue
		}
		summary.Customers++
		summary.Warned += int(stamped)
		s.notify(ctx, domain.EventPointsExpiringSoon, key.TenantID, key.CustomerID, map[string]any{
			"points_expiring": points,
			"expires_at":      earliest,
		})
	}
	return summary, nil
}

// SweepStaleRedemptions expires open redemptions that outlived their lifetime.
func (s *Service) SweepStaleRedemptions(ctx context.Context, limit int) (*SweepSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	now := s.clock()
	stale, err := s.repo.ListStaleRedemptions(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	summary := &SweepSummary{Scanned: len(stale)}
	for _, candidate := range stale {
		var expired *domain.RewardRedemption
		var refunded bool
		err := s.repo.InTx(ctx, func(tx store.Tx) error {
			rd, err := tx.GetRedemption(ctx, candidate.TenantID, candidate.ID)
			if err != nil {
				return err
			}
			if !rd.PastDue(now) {
				return nil
			}
			expired, refunded, err = s.expireRedemptionTx(ctx, tx, rd, now)
			return err
		})
		if errors.Is(err, store.ErrStateConflict) {
			continue
		}
		if err != nil {
			summary.Failures++
			s.logger.Error("failed to expire redemption", "tenant_id", candidate.TenantID, "redemption_id", candidate.ID, "error", err)
			continue
		}
		if expired == nil {
			continue
		}
		summary.Expired++
		if refunded {
			summary.Refunded++
		}
		s.afterRedemptionExpired(ctx, expired, refunded)
	}
	return summary, nil
}

// SweepStaleClaims closes pending claims whose processing window elapsed. Expired claims
// have no ledger effect.
func (s *Service) SweepStaleClaims(ctx context.Context, limit int) (*SweepSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	now := s.clock()
	stale, err := s.repo.ListStaleClaims(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	summary := &SweepSummary{Scanned: len(stale)}
	for _, candidate := range stale {
		var expired *domain.PurchaseClaim
		err := s.repo.InTx(ctx, func(tx store.Tx) error {
			var err error
			expired, err = tx.ExpireClaim(ctx, candidate.TenantID, candidate.ID, now)
			return err
		})
		if errors.Is(err, store.ErrStateConflict) {
			// Reviewed between the listing and the update.
			continue
		}
		if err != nil {
			summary.Failures++
			s.logger.Error("failed to expire claim", "tenant_id", candidate.TenantID, "claim_id", candidate.ID, "error", err)
			continue
		}
		summary.Expired++
		s.logger.Info("claim expired", "tenant_id", expired.TenantID, "claim_id", expired.ID)
		s.notify(ctx, domain.EventClaimExpired, expired.TenantID, expired.CustomerID, map[string]any{
			"claim_id":     expired.ID,
			"amount_minor": expired.AmountMinor,
		})
	}
	return summary, nil
}
