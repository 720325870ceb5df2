// Package scheduler provides cron-based background maintenance for tripbot.
//
// Its main duty is housekeeping on the store: pruning aged message
// deduplication records so the dedup table tracks only the messaging
// platform's retry window.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pacific-gateway/tripbot/internal/store"
)

// DefaultPruneSchedule runs store maintenance at the top of every hour.
const DefaultPruneSchedule = "0 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// RegisterStoreMaintenance schedules periodic pruning of dedup records
// older than the TTL. An empty expression uses the default hourly schedule.
func (s *Scheduler) RegisterStoreMaintenance(st store.Store, dedupTTL time.Duration, expr string) error {
	if expr == "" {
		expr = DefaultPruneSchedule
	}
	err := s.AddJob(expr, func() {
		pruned, err := st.PruneDedup(time.Now().Add(-dedupTTL))
		if err != nil {
			slog.Error("Scheduler: dedup prune failed", "error", err)
			return
		}
		if pruned > 0 {
			slog.Info("Scheduler: pruned aged dedup records", "count", pruned)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule store maintenance: %w", err)
	}
	slog.Debug("Scheduler: store maintenance registered", "schedule", expr, "dedupTTL", dedupTTL)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
