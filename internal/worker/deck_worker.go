package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/deckforge/api/internal/model"
)

// Runner drives one job to a terminal status.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// DeckWorker processes deck generation tasks
type DeckWorker struct {
	runner Runner
	logger *slog.Logger
}

// NewDeckWorker creates a new deck worker
func NewDeckWorker(runner Runner) *DeckWorker {
	return &DeckWorker{
		runner: runner,
		logger: slog.Default().With("component", "deck_worker"),
	}
}

// ProcessTask handles deck:generate tasks. Jobs are never retried by the
// queue: a failed run has already recorded its terminal status.
func (w *DeckWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.DeckTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	w.logger.InfoContext(ctx, "starting deck job", "job_id", payload.JobID)

	if err := w.runner.Run(ctx, payload.JobID); err != nil {
		w.logger.ErrorContext(ctx, "deck job failed", "job_id", payload.JobID, "error", err)
		return fmt.Errorf("deck job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	w.logger.InfoContext(ctx, "deck job finished", "job_id", payload.JobID)
	return nil
}
