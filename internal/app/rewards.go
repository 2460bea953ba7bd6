package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/loyalty"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// RewardInput carries catalog fields. Either PointsRequired or ValueMinor must be set; when
// only the value is given the cost is derived from the tenant's burn rate.
type RewardInput struct {
	Name                      string     `json:"name"`
	Description               string     `json:"description"`
	PointsRequired            *int64     `json:"points_required"`
	ValueMinor                *int64     `json:"value_minor"`
	StockQuantity             *int64     `json:"stock_quantity"`
	MaxRedemptionsPerCustomer *int       `json:"max_redemptions_per_customer"`
	ValidFrom                 *time.Time `json:"valid_from"`
	ValidUntil                *time.Time `json:"valid_until"`
	IsActive                  *bool      `json:"is_active"`
}

// rewardPricing is the tenant configuration a reward's cost is derived from.
type rewardPricing struct {
	currency string
	burnRate float64
	minimum  *float64
}

func (s *Service) rewardPricing(ctx context.Context, tenantID uuid.UUID) (rewardPricing, error) {
	currency, err := s.tenants.GetCurrency(ctx, tenantID)
	if err != nil {
		return rewardPricing{}, err
	}
	burnRate, err := s.tenants.GetBurnRate(ctx, tenantID)
	if err != nil {
		return rewardPricing{}, err
	}
	settings, err := s.tenants.Settings(ctx, tenantID)
	if err != nil {
		return rewardPricing{}, err
	}
	return rewardPricing{currency: currency, burnRate: burnRate, minimum: settings.MinimumRewardValue}, nil
}

// CreateReward adds a catalog entry for the tenant.
func (s *Service) CreateReward(ctx context.Context, tenantID uuid.UUID, in RewardInput) (*domain.Reward, error) {
	pricing, err := s.rewardPricing(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	reward := &domain.Reward{
		ID:        uuid.New(),
		TenantID:  tenantID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyRewardInput(reward, in, pricing); err != nil {
		return nil, err
	}

	if err := s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateReward(ctx, reward)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("reward created", "tenant_id", tenantID, "reward_id", reward.ID, "points_required", reward.PointsRequired)
	return reward, nil
}

// UpdateReward replaces the catalog fields of a reward. Counters are left untouched.
func (s *Service) UpdateReward(ctx context.Context, tenantID, rewardID uuid.UUID, in RewardInput) (*domain.Reward, error) {
	pricing, err := s.rewardPricing(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var updated *domain.Reward
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		reward, err := tx.GetReward(ctx, tenantID, rewardID)
		if err != nil {
			return err
		}
		if in.PointsRequired == nil && in.ValueMinor == nil {
			// Keep the current cost when the update does not touch it.
			points := reward.PointsRequired
			in.PointsRequired = &points
		}
		if err := applyRewardInput(reward, in, pricing); err != nil {
			return err
		}
		reward.UpdatedAt = s.clock()
		if err := tx.UpdateReward(ctx, reward); err != nil {
			return err
		}
		updated = reward
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetRewardActive turns a reward on or off without touching the rest of the entry.
func (s *Service) SetRewardActive(ctx context.Context, tenantID, rewardID uuid.UUID, active bool) (*domain.Reward, error) {
	var updated *domain.Reward
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		reward, err := tx.GetReward(ctx, tenantID, rewardID)
		if err != nil {
			return err
		}
		reward.IsActive = active
		reward.UpdatedAt = s.clock()
		if err := tx.UpdateReward(ctx, reward); err != nil {
			return err
		}
		updated = reward
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteReward soft-deletes a reward. Existing redemptions keep referring to it.
func (s *Service) DeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID) error {
	return s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.SoftDeleteReward(ctx, tenantID, rewardID, s.clock())
	})
}

// GetReward returns a non-deleted reward.
func (s *Service) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*domain.Reward, error) {
	return s.repo.GetReward(ctx, tenantID, rewardID)
}

// ListRewards returns the catalog; inactive entries only when includeInactive is set.
func (s *Service) ListRewards(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]domain.Reward, error) {
	return s.repo.ListRewards(ctx, tenantID, includeInactive)
}

func applyRewardInput(reward *domain.Reward, in RewardInput, pricing rewardPricing) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Invalid("name", "is required")
	}
	if in.StockQuantity != nil && *in.StockQuantity < 0 {
		return domain.Invalid("stock_quantity", "must not be negative")
	}
	if in.MaxRedemptionsPerCustomer != nil && *in.MaxRedemptionsPerCustomer < 1 {
		return domain.Invalid("max_redemptions_per_customer", "must be at least 1")
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && !in.ValidUntil.After(*in.ValidFrom) {
		return domain.Invalid("valid_until", "must be after valid_from")
	}

	points, err := rewardCost(in, pricing)
	if err != nil {
		return err
	}

	reward.Name = name
	reward.Description = strings.TrimSpace(in.Description)
	reward.PointsRequired = points
	reward.ValueMinor = in.ValueMinor
	reward.StockQuantity = in.StockQuantity
	reward.MaxRedemptionsPerCustomer = in.MaxRedemptionsPerCustomer
	reward.ValidFrom = in.ValidFrom
	reward.ValidUntil = in.ValidUntil
	if in.IsActive != nil {
		reward.IsActive = *in.IsActive
	}
	return nil
}

// rewardCost resolves the points a reward costs. A monetary value must clear the tenant's
// minimum reward value.
func rewardCost(in RewardInput, pricing rewardPricing) (int64, error) {
	if in.ValueMinor != nil {
		if *in.ValueMinor <= 0 {
			return 0, domain.Invalid("value_minor", "must be greater than zero")
		}
		value := loyalty.ToMajor(*in.ValueMinor, pricing.currency)
		if value.LessThan(loyalty.EffectiveMinimumRewardValue(pricing.currency, pricing.minimum)) {
			return 0, domain.ErrRewardValueTooLow
		}
		if in.PointsRequired == nil {
			return loyalty.PointsRequired(value, pricing.currency, pricing.burnRate), nil
		}
	}
	if in.PointsRequired == nil {
		return 0, domain.Invalid("points_required", "is required when no value is given")
	}
	if *in.PointsRequired <= 0 {
		return 0, domain.ErrInvalidPoints
	}
	return *in.PointsRequired, nil
}
