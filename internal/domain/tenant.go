/**
 * @description
 * Strongly-typed, versioned tenant settings. Older tenants were stored as a free-form
 * JSON bag that mixed snake_case and camelCase keys; `DecodeTenantSettings` migrates those
 * documents to the current version and applies defaults, so the rest of the service only
 * ever sees a `TenantSettings` value.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TenantSettingsVersion is the schema version written by EncodeTenantSettings.
const TenantSettingsVersion = 2

// Setting defaults.
const (
	DefaultCurrency          = "GBP"
	DefaultBurnRate          = 0.02
	DefaultPointsExpiryDays  = 365
	DefaultExpiryWarningDays = 7
	DefaultTimezone          = "UTC"
)

// TenantSettings is the per-tenant programme configuration.
type TenantSettings struct {
	Version             int                `json:"version"`
	Currency            string             `json:"currency"`
	BurnRate            float64            `json:"burn_rate"`
	MinimumRewardValue  *float64           `json:"minimum_reward_value,omitempty"`
	PointsExpiryEnabled bool               `json:"points_expiry_enabled"`
	PointsExpiryDays    int                `json:"points_expiry_days"`
	// ExpiryWarningDays is how long before expiry customers are warned. Zero turns
	// warnings off.
	ExpiryWarningDays   int                `json:"expiry_warning_days"`
	WelcomeBonusPoints  int64              `json:"welcome_bonus_points"`
	Timezone            string             `json:"timezone"`
	Notifications       map[EventKind]bool `json:"notifications,omitempty"`
}

// DefaultTenantSettings returns the settings applied to a tenant with no stored config.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		Version:             TenantSettingsVersion,
		Currency:            DefaultCurrency,
		BurnRate:            DefaultBurnRate,
		PointsExpiryEnabled: true,
		PointsExpiryDays:    DefaultPointsExpiryDays,
		ExpiryWarningDays:   DefaultExpiryWarningDays,
		Timezone:            DefaultTimezone,
	}
}

// NotificationEnabled reports whether customers of this tenant should receive kind.
// Kinds without an explicit preference are enabled.
func (s TenantSettings) NotificationEnabled(kind EventKind) bool {
	if s.Notifications == nil {
		return true
	}
	enabled, ok := s.Notifications[kind]
	if !ok {
		return true
	}
	return enabled
}

// Location resolves the tenant timezone, falling back to UTC.
func (s TenantSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PointsExpiry returns the expiry date for points earned at earnedAt, or nil when
// expiry is disabled.
func (s TenantSettings) PointsExpiry(earnedAt time.Time) *time.Time {
	if !s.PointsExpiryEnabled || s.PointsExpiryDays <= 0 {
		return nil
	}
	expiresAt := earnedAt.AddDate(0, 0, s.PointsExpiryDays)
	return &expiresAt
}

func (s *TenantSettings) normalize() {
	s.Version = TenantSettingsVersion
	s.Currency = strings.ToUpper(strings.TrimSpace(s.Currency))
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	if s.BurnRate <= 0 {
		s.BurnRate = DefaultBurnRate
	}
	if s.PointsExpiryDays < 0 {
		s.PointsExpiryDays = 0
	}
	if s.PointsExpiryEnabled && s.PointsExpiryDays == 0 {
		s.PointsExpiryDays = DefaultPointsExpiryDays
	}
	if s.ExpiryWarningDays < 0 {
		s.ExpiryWarningDays = 0
	}
	if s.WelcomeBonusPoints < 0 {
		s.WelcomeBonusPoints = 0
	}
	if s.MinimumRewardValue != nil && *s.MinimumRewardValue <= 0 {
		s.MinimumRewardValue = nil
	}
	s.Timezone = strings.TrimSpace(s.Timezone)
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		s.Timezone = DefaultTimezone
	}
}

// EncodeTenantSettings serialises settings at the current version.
func EncodeTenantSettings(s TenantSettings) ([]byte, error) {
	s.normalize()
	return json.Marshal(s)
}

// DecodeTenantSettings parses a stored settings document of any version.
func DecodeTenantSettings(raw []byte) (TenantSettings, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return DefaultTenantSettings(), nil
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return TenantSettings{}, fmt.Errorf("decode tenant settings: %w", err)
	}

	if header.Version >= TenantSettingsVersion {
		settings := DefaultTenantSettings()
		if err := json.Unmarshal(raw, &settings); err != nil {
			return TenantSettings{}, fmt.Errorf("decode tenant settings: %w", err)
		}
		settings.normalize()
		return settings, nil
	}

	var legacy map[string]any
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return TenantSettings{}, fmt.Errorf("decode legacy tenant settings: %w", err)
	}
	return migrateLegacySettings(legacy), nil
}

// legacyNotificationKeys maps the old flat notify_* flags onto event kinds.
var legacyNotificationKeys = map[string][]EventKind{
	"notify_on_purchase":     {EventPurchaseRecorded},
	"notify_on_claim":        {EventClaimSubmitted, EventClaimApproved, EventClaimRejected, EventClaimExpired},
	"notify_on_redemption":   {EventRedemptionCreated, EventRedemptionFulfilled, EventRedemptionCancelled, EventRedemptionExpired},
	"notify_on_expiry":       {EventPointsExpired, EventPointsExpiringSoon},
	"notify_on_welcome":      {EventWelcomeBonus},
	"notify_points_expired":  {EventPointsExpired},
	"notify_points_expiring": {EventPointsExpiringSoon},
}

func migrateLegacySettings(legacy map[string]any) TenantSettings {
	settings := DefaultTenantSettings()

	if v, ok := lookupString(legacy, "currency", "home_currency", "homeCurrency", "currency_code", "currencyCode"); ok {
		settings.Currency = v
	}
	if v, ok := lookupFloat(legacy, "burn_rate", "burnRate"); ok {
		// Legacy documents stored the burn rate either as a fraction (0.02) or a percentage (2).
		if v > 1 {
			v = v / 100
		}
		settings.BurnRate = v
	}
	if v, ok := lookupFloat(legacy, "minimum_reward_value", "minimumRewardValue", "min_reward_value", "minRewardValue"); ok {
		settings.MinimumRewardValue = &v
	}
	if v, ok := lookupBool(legacy, "points_expiry_enabled", "pointsExpiryEnabled", "expiry_enabled", "expiryEnabled"); ok {
		settings.PointsExpiryEnabled = v
	}
	if v, ok := lookupFloat(legacy, "points_expiry_days", "pointsExpiryDays", "expiry_days", "expiryDays"); ok {
		settings.PointsExpiryDays = int(v)
	}
	if v, ok := lookupFloat(legacy, "expiry_warning_days", "expiryWarningDays"); ok {
		settings.ExpiryWarningDays = int(v)
	}
	if v, ok := lookupFloat(legacy, "welcome_bonus_points", "welcomeBonusPoints", "welcome_bonus", "welcomeBonus"); ok {
		settings.WelcomeBonusPoints = int64(v)
	}
	if v, ok := lookupString(legacy, "timezone", "timeZone", "tz"); ok {
		settings.Timezone = v
	}

	for key, kinds := range legacyNotificationKeys {
		if v, ok := lookupBool(legacy, key, snakeToCamel(key)); ok {
			if settings.Notifications == nil {
				settings.Notifications = make(map[EventKind]bool)
			}
			for _, kind := range kinds {
				settings.Notifications[kind] = v
			}
		}
	}

	settings.normalize()
	return settings
}

func snakeToCamel(key string) string {
	parts := strings.Split(key, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

func lookup(values map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := values[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(values map[string]any, keys ...string) (string, bool) {
	v, ok := lookup(values, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func lookupFloat(values map[string]any, keys ...string) (float64, bool) {
	v, ok := lookup(values, keys...)
	if !ok {
		return 0, false
	}
	switch typed := v.(type) {
	case float64:
		return typed, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		return 0, false
	}
	return 0, false
}

func lookupBool(values map[string]any, keys ...string) (bool, bool) {
	v, ok := lookup(values, keys...)
	if !ok {
		return false, false
	}
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false, false
		}
		return b, true
	case float64:
		return typed != 0, true
	}
	return false, false
}
