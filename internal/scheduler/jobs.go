/**
 * @description
 * Scheduled maintenance jobs for the loyalty ledger: points expiry, expiry warnings and the
 * sweeps that close stale redemptions and claims.
 */
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pointhed/loyalty-ledger/internal/app"
)

// Job names accepted by Run.
const (
	JobPointsExpiry     = "points-expiry"
	JobExpiryWarnings   = "expiry-warnings"
	JobRedemptionSweep  = "redemption-sweep"
	JobClaimSweep       = "claim-sweep"
	defaultJobTimeout   = 10 * time.Minute
	defaultJobBatchSize = app.DefaultBatchSize
)

// Maintenance defines the service operations the jobs drive.
type Maintenance interface {
	EnforcePointsExpiry(ctx context.Context, batchSize int) (*app.ExpirySummary, error)
	SendExpiryWarnings(ctx context.Context, batchSize int) (*app.WarningSummary, error)
	SweepStaleRedemptions(ctx context.Context, limit int) (*app.SweepSummary, error)
	SweepStaleClaims(ctx context.Context, limit int) (*app.SweepSummary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service   Maintenance
	logger    *slog.Logger
	batchSize int
	timeout   time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(service Maintenance, logger *slog.Logger, batchSize int) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultJobBatchSize
	}
	return &Jobs{
		service:   service,
		logger:    logger.With("component", "scheduler_jobs"),
		batchSize: batchSize,
		timeout:   defaultJobTimeout,
	}
}

// Names lists the jobs Run accepts.
func (j *Jobs) Names() []string {
	names := make([]string, 0, len(j.table()))
	for name := range j.table() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one job by name and returns its error.
func (j *Jobs) Run(ctx context.Context, name string) error {
	job, ok := j.table()[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job(ctx)
}

func (j *Jobs) table() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		JobPointsExpiry:    j.enforcePointsExpiry,
		JobExpiryWarnings:  j.sendExpiryWarnings,
		JobRedemptionSweep: j.sweepStaleRedemptions,
		JobClaimSweep:      j.sweepStaleClaims,
	}
}

// EnforcePointsExpiry expires earn transactions that are past their expiry date.
func (j *Jobs) EnforcePointsExpiry() {
	j.runScheduled(j.enforcePointsExpiry)
}

// SendExpiryWarnings notifies customers whose points expire soon.
func (j *Jobs) SendExpiryWarnings() {
	j.runScheduled(j.sendExpiryWarnings)
}

// SweepStaleRedemptions expires redemptions that outlived their lifetime.
func (j *Jobs) SweepStaleRedemptions() {
	j.runScheduled(j.sweepStaleRedemptions)
}

// SweepStaleClaims expires claims nobody reviewed in time.
func (j *Jobs) SweepStaleClaims() {
	j.runScheduled(j.sweepStaleClaims)
}

// runScheduled gives a cron invocation its own deadline; the job logs its own outcome.
func (j *Jobs) runScheduled(job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_ = job(ctx)
}

func (j *Jobs) enforcePointsExpiry(ctx context.Context) error {
	j.logger.Info("starting points expiry job")
	summary, err := j.service.EnforcePointsExpiry(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to enforce points expiry", "error", err)
		return err
	}
	j.logger.Info("points expiry job finished",
		"customers", summary.Customers,
		"transactions_found", summary.TransactionsFound,
		"points_expired", summary.PointsExpired,
		"failures", summary.Failures,
	)
	return nil
}

func (j *Jobs) sendExpiryWarnings(ctx context.Context) error {
	j.logger.Info("starting expiry warning job")
	summary, err := j.service.SendExpiryWarnings(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to send expiry warnings", "error", err)
		return err
	}
	j.logger.Info("expiry warning job finished",
		"customers", summary.Customers,
		"transactions_seen", summary.TransactionsSeen,
		"warned", summary.Warned,
		"failures", summary.Failures,
	)
	return nil
}

func (j *Jobs) sweepStaleRedemptions(ctx context.Context) error {
	j.logger.Info("starting redemption sweep job")
	summary, err := j.service.SweepStaleRedemptions(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to sweep stale redemptions", "error", err)
		return err
	}
	j.logger.Info("redemption sweep job finished",
		"scanned", summary.Scanned,
		"expired", summary.Expired,
		"refunded", summary.Refunded,
		"failures", summary.Failures,
	)
	return nil
}

func (j *Jobs) sweepStaleClaims(ctx context.Context) error {
	j.logger.Info("starting claim sweep job")
	summary, err := j.service.SweepStaleClaims(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to sweep stale claims", "error", err)
		return err
	}
	j.logger.Info("claim sweep job finished",
		"scanned", summary.Scanned,
		"expired", summary.Expired,
		"failures", summary.Failures,
	)
	return nil
}
