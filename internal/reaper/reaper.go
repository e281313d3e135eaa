// Package reaper fails jobs whose worker disappeared without reaching a
// terminal status.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/deckforge/api/internal/model"
	"github.com/deckforge/api/internal/pipeline"
)

const reapedMessage = "stale job reaped: no progress from worker"

// Store is the part of the job store the reaper needs.
type Store interface {
	StaleJobIDs(ctx context.Context, cutoff time.Time) ([]string, error)
	Update(ctx context.Context, id string, patch func(*model.Job) error) (*model.Job, error)
	Forget(ctx context.Context, id string) error
}

type Reaper struct {
	store      Store
	notifier   pipeline.Notifier
	archiver   pipeline.Archiver
	staleAfter time.Duration
	interval   time.Duration
	scheduler  *gocron.Scheduler
	now        func() time.Time
	logger     *slog.Logger
}

func New(store Store, notifier pipeline.Notifier, archiver pipeline.Archiver, interval, staleAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	if notifier == nil {
		notifier = pipeline.Notifiers(nil)
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Reaper{
		store:      store,
		notifier:   notifier,
		archiver:   archiver,
		staleAfter: staleAfter,
		interval:   interval,
		scheduler:  s,
		now:        time.Now,
		logger:     slog.Default().With("component", "reaper"),
	}
}

// Start schedules periodic sweeps.
func (r *Reaper) Start() error {
	_, err := r.scheduler.Every(r.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.interval)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reaper sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}
	r.scheduler.StartAsync()
	r.logger.Info("reaper started", "interval", r.interval, "stale_after", r.staleAfter)
	return nil
}

func (r *Reaper) Stop() {
	r.scheduler.Stop()
}

// Sweep fails every stale job once and returns how many were reaped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.store.StaleJobIDs(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		job, was, err := r.reap(ctx, id)
		switch {
		case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrJobTerminal):
			if err := r.store.Forget(ctx, id); err != nil {
				r.logger.WarnContext(ctx, "failed to drop job from active index", "job_id", id, "error", err)
			}
			continue
		case err != nil:
			r.logger.WarnContext(ctx, "failed to reap job", "job_id", id, "error", err)
			continue
		}

		reaped++
		r.logger.WarnContext(ctx, "stale job reaped", "job_id", id, "status_was", was)
		r.notifier.JobFailed(job)
		if r.archiver != nil {
			if err := r.archiver.Save(ctx, job); err != nil {
				r.logger.WarnContext(ctx, "job archive failed", "job_id", id, "error", err)
			}
		}
	}

	if reaped > 0 {
		r.logger.InfoContext(ctx, "reaper sweep completed", "stale", len(ids), "reaped", reaped)
	}
	return reaped, nil
}

func (r *Reaper) reap(ctx context.Context, id string) (*model.Job, model.JobStatus, error) {
	msg := reapedMessage
	now := r.now()
	var was model.JobStatus
	job, err := r.store.Update(ctx, id, func(j *model.Job) error {
		was = j.Status
		j.Status = model.JobStatusFailed
		j.CurrentStep = "Failed"
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		return nil
	})
	return job, was, err
}
