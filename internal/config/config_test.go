package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", MemoryDatabaseURL)
	for _, key := range []string{"PORT", "SERVER_PORT", "REDEMPTION_EXPIRY_REFUND", "SWEEP_BATCH_SIZE", "CORS_ALLOWED_ORIGINS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if !cfg.RedemptionExpiryRefund {
		t.Fatal("expected redemption expiry refund to default to true")
	}
	if cfg.SweepBatchSize != 500 {
		t.Fatalf("expected default batch size 500, got %d", cfg.SweepBatchSize)
	}
	if cfg.PointsExpirySchedule == "" || cfg.ClaimSweepSchedule == "" {
		t.Fatalf("expected default schedules, got %+v", cfg)
	}
	if !cfg.UsesMemoryStore() {
		t.Fatal("expected memory store to be selected")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard origin, got %v", got)
	}
}

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DATABASE_URL")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected missing DATABASE_URL to be rejected")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", "postgres://localhost/loyalty")
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", " 7000 ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
	if cfg.UsesMemoryStore() {
		t.Fatal("expected postgres store to be selected")
	}
}

func TestLoadConfig_JWTSecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", MemoryDatabaseURL)
	unsetEnvWithCleanup(t, "JWT_SECRET")
	setEnvWithCleanup(t, "STAFF_JWT_SECRET", " alias-secret ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTSecret != "alias-secret" {
		t.Fatalf("expected JWT secret from alias, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfig_NormalisesNumbers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", MemoryDatabaseURL)
	setEnvWithCleanup(t, "SWEEP_BATCH_SIZE", "0")
	setEnvWithCleanup(t, "EVENTS_PREFETCH", "-3")
	setEnvWithCleanup(t, "CLAIM_SUBMIT_RATE_LIMIT_PER_MINUTE", "-1")
	setEnvWithCleanup(t, "REDEMPTION_EXPIRY_REFUND", "false")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SweepBatchSize != 500 || cfg.EventsPrefetch != 20 || cfg.ClaimSubmitRateLimitPerMinute != 0 {
		t.Fatalf("expected normalised numbers, got %+v", cfg)
	}
	if cfg.RedemptionExpiryRefund {
		t.Fatal("expected redemption expiry refund to be disabled")
	}
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: []string{"*"}},
		{name: "list", raw: "https://a.example, https://b.example ,", want: []string{"https://a.example", "https://b.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Config{CORSOrigins: tt.raw}.AllowedOrigins()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
