/**
 * @description
 * Cron scheduler for background ledger maintenance.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const reconcileTimeout = 2 * time.Minute

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a scheduler that runs balance reconciliation on schedule.
func NewScheduler(service *Service, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.ReconcileBalances); err != nil {
		s.logger.Error("failed to schedule balance reconciliation job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled balance reconciliation job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// ReconcileBalances is the job body.
func (s *Scheduler) ReconcileBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	drifts, err := s.service.ReconcileBalances(ctx)
	if err != nil {
		s.logger.Error("balance reconciliation failed", "error", err)
		return
	}
	s.logger.Info("balance reconciliation finished", "drifted_accounts", len(drifts))
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
