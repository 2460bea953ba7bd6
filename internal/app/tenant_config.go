package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

// TenantConfigProvider exposes the per-tenant facts the ledger needs. Workflows read the
// currency, burn rate, blocked flag and notification preferences through the dedicated
// methods; Settings serves the remaining fields (timezone, expiry policy, welcome bonus).
type TenantConfigProvider interface {
	Settings(ctx context.Context, tenantID uuid.UUID) (domain.TenantSettings, error)
	GetCurrency(ctx context.Context, tenantID uuid.UUID) (string, error)
	GetBurnRate(ctx context.Context, tenantID uuid.UUID) (float64, error)
	IsBlocked(ctx context.Context, tenantID, customerID uuid.UUID) (bool, error)
	NotifyPreferencesEnabled(ctx context.Context, tenantID uuid.UUID, kind domain.EventKind) (bool, error)
}

// RepositoryTenantConfig reads tenant settings and customer status from the store.
type RepositoryTenantConfig struct {
	repo store.Reader
}

func NewRepositoryTenantConfig(repo store.Reader) *RepositoryTenantConfig {
	return &RepositoryTenantConfig{repo: repo}
}

func (c *RepositoryTenantConfig) Settings(ctx context.Context, tenantID uuid.UUID) (domain.TenantSettings, error) {
	tenant, err := c.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	return tenant.Settings, nil
}

func (c *RepositoryTenantConfig) GetCurrency(ctx context.Context, tenantID uuid.UUID) (string, error) {
	settings, err := c.Settings(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return settings.Currency, nil
}

func (c *RepositoryTenantConfig) GetBurnRate(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	settings, err := c.Settings(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return settings.BurnRate, nil
}

func (c *RepositoryTenantConfig) IsBlocked(ctx context.Context, tenantID, customerID uuid.UUID) (bool, error) {
	customer, err := c.repo.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return false, err
	}
	return customer.IsBlocked(), nil
}

func (c *RepositoryTenantConfig) NotifyPreferencesEnabled(ctx context.Context, tenantID uuid.UUID, kind domain.EventKind) (bool, error) {
	settings, err := c.Settings(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return settings.NotificationEnabled(kind), nil
}

// CreateTenant registers a business with the given settings. Empty fields take defaults.
func (s *Service) CreateTenant(ctx context.Context, name string, settings domain.TenantSettings) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name", "is required")
	}
	if err := s.validateSettings(settings); err != nil {
		return nil, err
	}

	now := s.clock()
	tenant := &domain.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Settings:  normalizedSettings(settings),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateTenant(ctx, tenant)
	}); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	s.logger.Info("tenant created", "tenant_id", tenant.ID, "currency", tenant.Settings.Currency)
	return tenant, nil
}

// GetTenant returns the tenant with its decoded settings.
func (s *Service) GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	return s.repo.GetTenant(ctx, tenantID)
}

// UpdateTenantSettings replaces the tenant's programme configuration.
func (s *Service) UpdateTenantSettings(ctx context.Context, tenantID uuid.UUID, settings domain.TenantSettings) (*domain.Tenant, error) {
	if err := s.validateSettings(settings); err != nil {
		return nil, err
	}
	normalized := normalizedSettings(settings)
	if err := s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateTenantSettings(ctx, tenantID, normalized, s.clock())
	}); err != nil {
		return nil, err
	}
	return s.repo.GetTenant(ctx, tenantID)
}

// validateSettings rejects settings the ledger cannot honour. The warning window may not
// exceed the lookahead of the warning sweep.
func (s *Service) validateSettings(settings domain.TenantSettings) error {
	if settings.BurnRate < 0 {
		return domain.Invalid("burn_rate", "must not be negative")
	}
	if settings.PointsExpiryDays < 0 {
		return domain.Invalid("points_expiry_days", "must not be negative")
	}
	if settings.WelcomeBonusPoints < 0 {
		return domain.Invalid("welcome_bonus_points", "must not be negative")
	}
	if settings.ExpiryWarningDays < 0 {
		return domain.Invalid("expiry_warning_days", "must not be negative")
	}
	if maxDays := int(s.warningLookahead / (24 * time.Hour)); settings.ExpiryWarningDays > maxDays {
		return domain.Invalid("expiry_warning_days", fmt.Sprintf("must not exceed %d", maxDays))
	}
	return nil
}

// normalizedSettings round-trips settings through the versioned codec so defaults and
// bounds are applied exactly as they will be when read back.
func normalizedSettings(settings domain.TenantSettings) domain.TenantSettings {
	raw, err := domain.EncodeTenantSettings(settings)
	if err != nil {
		return domain.DefaultTenantSettings()
	}
	decoded, err := domain.DecodeTenantSettings(raw)
	if err != nil {
		return domain.DefaultTenantSettings()
	}
	return decoded
}
