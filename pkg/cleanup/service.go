// Package cleanup provides a background retention service that prunes
// terminal task records once they age past the configured TTL. Revision
// retention is enforced at write time by the store, so only tasks need a
// periodic sweep.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/config"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// terminalStatuses are the task states eligible for pruning.
var terminalStatuses = []models.TaskStatus{
	models.TaskStatusCompleted,
	models.TaskStatusFailed,
	models.TaskStatusCancelled,
}

// Service runs periodic retention sweeps until stopped.
type Service struct {
	config config.CleanupConfig
	store  store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. Zero config fields fall back to
// the built-in defaults.
func NewService(cfg config.CleanupConfig, st store.Store) *Service {
	def := config.Default().Cleanup
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = def.IntervalMinutes
	}
	if cfg.TaskTTLHours <= 0 {
		cfg.TaskTTLHours = def.TaskTTLHours
	}
	return &Service{config: cfg, store: st}
}

// Start launches the periodic sweep loop. It returns an error if the
// service is already running.
func (s *Service) Start(ctx context.Context) error {
	if s.cancel != nil {
		return fmt.Errorf("cleanup service already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)

	slog.Info("Cleanup service started",
		"interval_minutes", s.config.IntervalMinutes,
		"task_ttl_hours", s.config.TaskTTLHours)
	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	// One sweep at startup, then on the interval.
	s.sweep(ctx)

	ticker := time.NewTicker(time.Duration(s.config.IntervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	pruned, err := s.PruneExpiredTasks(ctx, time.Now())
	if err != nil {
		slog.Error("Task retention sweep failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("Pruned expired tasks", "count", pruned)
	}
}

// PruneExpiredTasks deletes terminal tasks whose last update is older than
// the TTL, returning the number removed. Tasks that vanish mid-sweep are
// skipped.
func (s *Service) PruneExpiredTasks(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(s.config.TaskTTLHours) * time.Hour)
	pruned := 0
	for _, status := range terminalStatuses {
		tasks, err := s.store.ListTasksByStatus(ctx, status)
		if err != nil {
			return pruned, fmt.Errorf("listing %s tasks: %w", status, err)
		}
		for _, t := range tasks {
			if t.UpdatedAt.After(cutoff) {
				continue
			}
			if err := s.store.DeleteTask(ctx, t.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return pruned, fmt.Errorf("deleting task %s: %w", t.ID, err)
			}
			pruned++
		}
	}
	return pruned, nil
}
