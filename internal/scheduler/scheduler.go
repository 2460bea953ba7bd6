/**
 * @description
 * Cron scheduler setup for the ledger maintenance jobs.
 */
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job. An empty expression leaves the job unscheduled.
type Schedules struct {
	PointsExpiry    string
	ExpiryWarnings  string
	RedemptionSweep string
	ClaimSweep      string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger.With("component", "scheduler"),
		schedules: schedules,
	}
}

// Register adds every configured job to the cron table and reports how many were scheduled.
func (s *Scheduler) Register() int {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: JobPointsExpiry, schedule: s.schedules.PointsExpiry, run: s.jobs.EnforcePointsExpiry},
		{name: JobExpiryWarnings, schedule: s.schedules.ExpiryWarnings, run: s.jobs.SendExpiryWarnings},
		{name: JobRedemptionSweep, schedule: s.schedules.RedemptionSweep, run: s.jobs.SweepStaleRedemptions},
		{name: JobClaimSweep, schedule: s.schedules.ClaimSweep, run: s.jobs.SweepStaleClaims},
	}

	scheduled := 0
	for _, entry := range entries {
		if entry.schedule == "" {
			s.logger.Info("job not scheduled", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			s.logger.Error("failed to schedule job", "job", entry.name, "schedule", entry.schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.schedule)
		scheduled++
	}
	return scheduled
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Register()
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
