package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/config"
	"github.com/pointhed/loyalty-ledger/internal/store"
	"github.com/pointhed/loyalty-ledger/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// components holds the collaborators shared by every subcommand.
type components struct {
	cfg     config.Config
	logger  *slog.Logger
	repo    store.Repository
	redis   *redis.Client
	service *app.Service
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (rt *components) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// loadConfig reads .env (if present) and the environment into a Config and sets up logging.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, func(), error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "component", "bootstrap", "error", err)
	}

	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("cannot load config: %w", err)
	}
	logger, closeLog := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}

// newLogger builds the JSON slog logger, teeing into a rotated file when LOG_FILE is set.
func newLogger(cfg config.Config) (*slog.Logger, func()) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { _ = file.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}

// bootstrap connects the store, Redis and the notification publisher and builds the service.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*components, error) {
	cfg, logger, closeLog, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rt := &components{cfg: cfg, logger: logger, closers: []func(){closeLog}}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.connectRedis(ctx)

	opts := app.Options{
		Logger:                    logger,
		Notifier:                  rt.newNotifier(),
		RedemptionExpiryRefund:    cfg.RedemptionExpiryRefund,
		ClaimSubmitLimitPerMinute: cfg.ClaimSubmitRateLimitPerMinute,
		WarningLookahead:          time.Duration(cfg.ExpiryWarningLookaheadDay) * 24 * time.Hour,
	}
	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	if rt.redis != nil {
		opts.Limiter = app.NewRedisRateLimiter(rt.redis, cfg.RedisRateLimitPrefix)
		opts.Sessions = app.NewRedisSessionRouter(rt.redis, cfg.RedisSessionPrefix, sessionTTL)
	} else {
		opts.Sessions = app.NewMemorySessionRouter(sessionTTL, nil)
	}

	rt.service = app.NewService(rt.repo, opts)
	rt.closers = append(rt.closers, rt.service.WaitForNotifications)
	return rt, nil
}

func (rt *components) openStore(ctx context.Context) error {
	if rt.cfg.UsesMemoryStore() {
		rt.logger.Warn("using in-memory store; data will not survive a restart", "component", "bootstrap")
		rt.repo = store.NewMemoryRepository()
		return nil
	}

	pool, err := openPool(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	rt.repo = store.NewPostgresRepository(pool)
	rt.closers = append(rt.closers, pool.Close)
	rt.logger.Info("database connected", "component", "bootstrap")
	return nil
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with transaction poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// connectRedis enables the Redis-backed limiter and session router. Failures degrade to
// the in-process session router with the burst limiter disabled.
func (rt *components) connectRedis(ctx context.Context) {
	if rt.cfg.RedisURL == "" {
		rt.logger.Warn("redis url missing; claim burst limiting disabled", "component", "bootstrap", "env", "REDIS_URL")
		return
	}
	redisOptions, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		rt.logger.Warn("redis url parse failed; claim burst limiting disabled", "component", "bootstrap", "error", err)
		return
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rt.logger.Warn("redis ping failed; claim burst limiting disabled", "component", "bootstrap", "error", err)
		_ = client.Close()
		return
	}
	rt.redis = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	rt.logger.Info("redis connected", "component", "bootstrap")
}

// newNotifier publishes notifications to RabbitMQ, falling back to a logging publisher when
// the broker is unavailable at startup.
func (rt *components) newNotifier() app.Notifier {
	if rt.cfg.RabbitMQURL == "" {
		rt.logger.Warn("rabbitmq url missing; notifications will only be logged", "component", "bootstrap")
		return app.NewLogNotifier(rt.logger)
	}
	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL, rt.logger)
	if err != nil {
		rt.logger.Warn("rabbitmq producer unavailable; using fallback", "component", "bootstrap", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: rt.logger}
	} else {
		publisher = producer
		rt.closers = append(rt.closers, producer.Close)
		rt.logger.Info("rabbitmq producer connected", "component", "bootstrap")
	}
	return app.NewRabbitNotifier(publisher, rt.cfg.NotificationsExchange)
}
