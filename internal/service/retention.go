package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

// Pruner is the part of an evidence store the retention scheduler needs.
type Pruner interface {
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// RetentionScheduler deletes decision records older than the retention
// period on a cron schedule.
type RetentionScheduler struct {
	store     Pruner
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ Pruner = (evidence.QueryStore)(nil)

// Pruners prunes several stores with one cutoff, summing the counts.
type Pruners []Pruner

// PruneBefore prunes every store, continuing past failures.
func (p Pruners) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	var errs []error
	for _, store := range p {
		n, err := store.PruneBefore(ctx, before)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// NewRetentionScheduler creates a scheduler. A zero retention keeps records
// forever and Start becomes a no-op.
func NewRetentionScheduler(store Pruner, retention time.Duration, schedule string, logger *slog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger.With("component", "evidence.retention"),
		now:       time.Now,
		cron:      cron.New(),
	}
}

// Start schedules pruning. ctx is passed to every prune run; Stop must be
// called to end the schedule.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.retention <= 0 || s.schedule == "" {
		s.logger.Info("evidence retention disabled")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Error("scheduled pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"retention", s.retention,
	)
	return nil
}

// Prune deletes records older than now minus the retention period.
func (s *RetentionScheduler) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		s.logger.Info("pruned decision records", "deleted", deleted, "cutoff", cutoff)
	} else {
		s.logger.Debug("pruning completed, no records deleted")
	}
	return deleted, nil
}

// Stop ends the schedule and waits for a running prune to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// IsRunning reports whether a schedule is active.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or nil when not running.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
