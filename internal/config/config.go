/**
 * @description
 * This package handles the configuration management for the loyalty ledger. It uses the
 * Viper library to read configuration from environment variables and an optional `.env`
 * file, applies defaults, and normalises values so the rest of the service can use them
 * without further checks.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// MemoryDatabaseURL selects the in-process repository instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

// Config holds all the configuration variables for the loyalty ledger.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	CORSOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RedisSessionPrefix   string `mapstructure:"REDIS_SESSION_PREFIX"`
	SessionTTLMinutes    int    `mapstructure:"SESSION_TTL_MINUTES"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	NotificationsExchange string `mapstructure:"NOTIFICATIONS_EXCHANGE"`
	EventsExchange        string `mapstructure:"EVENTS_EXCHANGE"`
	EventsQueue           string `mapstructure:"EVENTS_QUEUE"`
	EventsPrefetch        int    `mapstructure:"EVENTS_PREFETCH"`

	PointsExpirySchedule      string `mapstructure:"POINTS_EXPIRY_SCHEDULE"`
	ExpiryWarningSchedule     string `mapstructure:"EXPIRY_WARNING_SCHEDULE"`
	RedemptionSweepSchedule   string `mapstructure:"REDEMPTION_SWEEP_SCHEDULE"`
	ClaimSweepSchedule        string `mapstructure:"CLAIM_SWEEP_SCHEDULE"`
	SweepBatchSize            int    `mapstructure:"SWEEP_BATCH_SIZE"`
	ExpiryWarningLookaheadDay int    `mapstructure:"EXPIRY_WARNING_LOOKAHEAD_DAYS"`

	RedemptionExpiryRefund        bool `mapstructure:"REDEMPTION_EXPIRY_REFUND"`
	ClaimSubmitRateLimitPerMinute int  `mapstructure:"CLAIM_SUBMIT_RATE_LIMIT_PER_MINUTE"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
}

// LoadConfig reads configuration from environment variables and the optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "loyalty:rate_limit")
	viper.SetDefault("REDIS_SESSION_PREFIX", "loyalty:session")
	viper.SetDefault("SESSION_TTL_MINUTES", 1440)
	viper.SetDefault("NOTIFICATIONS_EXCHANGE", "loyalty.notifications")
	viper.SetDefault("EVENTS_EXCHANGE", "loyalty.events")
	viper.SetDefault("EVENTS_QUEUE", "loyalty_ledger.inbound_events")
	viper.SetDefault("EVENTS_PREFETCH", 20)
	viper.SetDefault("POINTS_EXPIRY_SCHEDULE", "15 2 * * *")    // At 02:15 every day.
	viper.SetDefault("EXPIRY_WARNING_SCHEDULE", "0 9 * * *")    // At 09:00 every day.
	viper.SetDefault("REDEMPTION_SWEEP_SCHEDULE", "*/10 * * * *") // Every 10 minutes.
	viper.SetDefault("CLAIM_SWEEP_SCHEDULE", "5 * * * *")       // At minute 5 of every hour.
	viper.SetDefault("SWEEP_BATCH_SIZE", 500)
	viper.SetDefault("EXPIRY_WARNING_LOOKAHEAD_DAYS", 30)
	viper.SetDefault("REDEMPTION_EXPIRY_REFUND", true)
	viper.SetDefault("CLAIM_SUBMIT_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_MAX_SIZE_MB", 100)
	viper.SetDefault("LOG_MAX_BACKUPS", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "STAFF_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("REDIS_SESSION_PREFIX")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATIONS_EXCHANGE")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("EVENTS_QUEUE")
	_ = viper.BindEnv("EVENTS_PREFETCH")
	_ = viper.BindEnv("POINTS_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("EXPIRY_WARNING_SCHEDULE")
	_ = viper.BindEnv("REDEMPTION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CLAIM_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("EXPIRY_WARNING_LOOKAHEAD_DAYS")
	_ = viper.BindEnv("REDEMPTION_EXPIRY_REFUND")
	_ = viper.BindEnv("CLAIM_SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FILE")
	_ = viper.BindEnv("LOG_MAX_SIZE_MB")
	_ = viper.BindEnv("LOG_MAX_BACKUPS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 500
	}
	if config.EventsPrefetch <= 0 {
		config.EventsPrefetch = 20
	}
	if config.ClaimSubmitRateLimitPerMinute < 0 {
		config.ClaimSubmitRateLimitPerMinute = 0
	}
	if config.ExpiryWarningLookaheadDay <= 0 {
		config.ExpiryWarningLookaheadDay = 30
	}

	if config.DatabaseURL == "" {
		return config, fmt.Errorf("DATABASE_URL is required (use %q for the in-memory store)", MemoryDatabaseURL)
	}
	return config, nil
}

// UsesMemoryStore reports whether the in-process repository was selected.
func (c Config) UsesMemoryStore() bool {
	return strings.EqualFold(c.DatabaseURL, MemoryDatabaseURL)
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
