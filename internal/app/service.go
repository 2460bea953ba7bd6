/**
 * @description
 * This file contains the core business logic for the loyalty ledger. The `Service`
 * struct orchestrates every ledger use case (purchases, claims, redemptions, expiry)
 * on top of the store's guarded primitives, then hands customer notifications to the
 * notifier once the atomic unit has committed.
 *
 * Key features:
 * - Every mutation runs inside exactly one `store.Repository.InTx` unit.
 * - Notifications are dispatched after commit and never fail the parent operation.
 * - Time is injected so the expiry and window rules can be exercised in tests.
 *
 * @dependencies
 * - log/slog: structured logging.
 * - internal/domain, internal/store: domain models and data access.
 */

package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pointhed/loyalty-ledger/internal/store"
)

const (
	// DefaultBatchSize bounds how many rows one sweep pass reads.
	DefaultBatchSize = 500
	// DefaultWarningLookahead is how far ahead the warning sweep scans for expiring points.
	DefaultWarningLookahead = 30 * 24 * time.Hour

	maxCodeAttempts    = 5
	notifyTimeout      = 10 * time.Second
	claimSubmitScope   = "claim_submit"
	claimSubmitWindow  = time.Minute
	defaultClaimSource = "chat"
)

// Options configures optional collaborators and policies of the Service.
type Options struct {
	Notifier Notifier
	Limiter  RateLimiter
	Sessions SessionRouter
	Tenants  TenantConfigProvider
	Logger   *slog.Logger
	Now      func() time.Time

	// RedemptionExpiryRefund returns deducted points when a redemption expires unused.
	RedemptionExpiryRefund bool
	// ClaimSubmitLimitPerMinute caps claim submissions per customer per minute ahead of
	// the daily cap. Zero disables the burst limiter.
	ClaimSubmitLimitPerMinute int
	WarningLookahead          time.Duration
}

// Service provides the core business logic for the loyalty ledger.
type Service struct {
	repo     store.Repository
	tenants  TenantConfigProvider
	notifier Notifier
	limiter  RateLimiter
	sessions SessionRouter
	logger   *slog.Logger
	now      func() time.Time

	redemptionExpiryRefund bool
	claimSubmitLimit       int
	warningLookahead       time.Duration

	pending sync.WaitGroup
}

// NewService creates a new loyalty service instance.
func NewService(repo store.Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loyalty_service")

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewMemorySessionRouter(DefaultSessionTTL, now)
	}

	tenants := opts.Tenants
	if tenants == nil {
		tenants = NewRepositoryTenantConfig(repo)
	}

	lookahead := opts.WarningLookahead
	if lookahead <= 0 {
		lookahead = DefaultWarningLookahead
	}

	return &Service{
		repo:                   repo,
		tenants:                tenants,
		notifier:               notifier,
		limiter:                opts.Limiter,
		sessions:               sessions,
		logger:                 logger,
		now:                    now,
		redemptionExpiryRefund: opts.RedemptionExpiryRefund,
		claimSubmitLimit:       opts.ClaimSubmitLimitPerMinute,
		warningLookahead:       lookahead,
	}
}

// WaitForNotifications blocks until every in-flight notification has been handed off.
func (s *Service) WaitForNotifications() {
	s.pending.Wait()
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
