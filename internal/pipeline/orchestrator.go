package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/deckforge/api/internal/model"
)

const terminalWriteTimeout = 10 * time.Second

// Orchestrator drives one job through its state machine. A job is owned
// by exactly one Run call until it reaches a terminal status.
type Orchestrator struct {
	store     JobStore
	advisor   *UnitCountAdvisor
	structure *StructureGenerator
	resolver  RevisionResolver
	batcher   *Batcher
	notifier  Notifier
	archiver  Archiver
	cfg       Config
	logger    *slog.Logger
}

// Deps are the collaborators an Orchestrator is assembled from.
type Deps struct {
	Store    JobStore
	Reasoner Reasoner
	Images   ImageGenerator
	Videos   VideoAnimator
	Assets   AssetStore
	Notifier Notifier
	Archiver Archiver
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	assets := deps.Assets
	if assets == nil {
		assets = InlineAssetStore{}
	}

	var videos *VideoAdapter
	if deps.Videos != nil {
		videos = NewVideoAdapter(deps.Videos, cfg)
	}

	return &Orchestrator{
		store:     deps.Store,
		advisor:   NewUnitCountAdvisor(deps.Reasoner, cfg),
		structure: NewStructureGenerator(deps.Reasoner, cfg),
		batcher:   NewBatcher(NewImageAdapter(deps.Images, cfg), videos, assets, deps.Store, notifier, cfg),
		notifier:  notifier,
		archiver:  deps.Archiver,
		cfg:       cfg,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Run executes the job. Job-level failures are recorded on the job and
// returned; a job that is already terminal is a no-op.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "job panicked", "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
			o.fail(ctx, jobID, err)
		}
	}()

	now := time.Now()
	job, err := o.store.Update(ctx, jobID, func(j *model.Job) error {
		if j.CancelRequested {
			return errCanceled
		}
		j.Status = model.JobStatusGeneratingStructure
		j.StartedAt = &now
		j.ProgressPercent = advance(j.ProgressPercent, ProgressStarted)
		j.CurrentStep = "Planning slides"
		return nil
	})
	if err != nil {
		return o.stop(ctx, jobID, err)
	}
	o.notifier.JobProgress(job)
	o.logger.InfoContext(ctx, "job started", "job_id", jobID, "topic", job.Input.Topic)

	req, rationale := o.structureRequest(ctx, job)

	structure, err := o.structure.Generate(ctx, req)
	if err != nil {
		return o.stop(ctx, jobID, err)
	}

	res, err := o.resolver.Resolve(job.Input.Revision, structure)
	if err != nil {
		return o.stop(ctx, jobID, err)
	}

	opts := MediaOptions{Images: job.Input.GenerateImages, Video: job.Input.GenerateImages && job.Input.GenerateVideo}
	var positions []int
	if opts.Images {
		positions = mediaPositions(res)
	}

	job, err = o.store.Update(ctx, jobID, func(j *model.Job) error {
		if j.CancelRequested {
			return errCanceled
		}
		j.Status = model.JobStatusGeneratingUnits
		j.Title = res.Title
		j.Subtitle = res.Subtitle
		j.Units = res.Units
		j.TotalUnits = len(res.Units)
		j.UnitsCompleted = len(res.Units) - len(positions)
		j.RevisionStats = res.Stats
		j.UnitCountRationale = rationale
		j.ProgressPercent = advance(j.ProgressPercent, ProgressStructureDone)
		j.CurrentStep = fmt.Sprintf("Outlined %d slides", len(res.Units))
		return nil
	})
	if err != nil {
		return o.stop(ctx, jobID, err)
	}
	o.notifier.JobProgress(job)

	if len(positions) > 0 {
		job, err = o.store.Update(ctx, jobID, func(j *model.Job) error {
			if j.CancelRequested {
				return errCanceled
			}
			j.Status = model.JobStatusGeneratingMedia
			j.CurrentStep = "Generating visuals"
			return nil
		})
		if err != nil {
			return o.stop(ctx, jobID, err)
		}
		o.notifier.JobProgress(job)

		if _, err := o.batcher.Run(ctx, job, res, positions, opts); err != nil {
			return o.stop(ctx, jobID, err)
		}
	}

	return o.complete(ctx, jobID)
}

// structureRequest resolves the unit count: the advisor for auto requests,
// the prior deck size for an unsized whole revision, otherwise as submitted.
func (o *Orchestrator) structureRequest(ctx context.Context, job *model.Job) (StructureRequest, string) {
	in := job.Input
	req := StructureRequest{
		Topic:     in.Topic,
		Audience:  in.Audience,
		Style:     in.Style,
		UnitCount: in.UnitCount,
		Context:   in.Context,
		Revision:  in.Revision,
	}

	targeted := in.Revision != nil && in.Revision.TargetUnitIndex != nil
	var rationale string
	switch {
	case targeted:
		req.UnitCount = 1
	case in.AutoUnitCount:
		rec := o.advisor.Recommend(ctx, in.Topic, in.Audience, in.Context)
		req.UnitCount = rec.Count
		rationale = rec.Rationale
	case req.UnitCount <= 0 && in.Revision != nil && in.Revision.PriorJob != nil && len(in.Revision.PriorJob.Units) > 0:
		req.UnitCount = len(in.Revision.PriorJob.Units)
	}
	return req, rationale
}

// stop routes a pipeline error to the right terminal status.
func (o *Orchestrator) stop(ctx context.Context, jobID string, err error) error {
	switch {
	case errors.Is(err, model.ErrJobTerminal):
		o.logger.InfoContext(ctx, "job already terminal, stopping", "job_id", jobID)
		return nil
	case errors.Is(err, errCanceled):
		o.cancel(ctx, jobID)
		return nil
	case ctx.Err() != nil:
		err = fmt.Errorf("worker shut down: %w", ctx.Err())
	}
	o.fail(ctx, jobID, err)
	return err
}

func (o *Orchestrator) complete(ctx context.Context, jobID string) error {
	now := time.Now()
	job, err := o.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.UnitsCompleted = j.TotalUnits
		j.ProgressPercent = ProgressComplete
		j.CurrentStep = "Done"
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return o.stop(ctx, jobID, err)
	}

	failed := 0
	for _, u := range job.Units {
		if u.GenerationFailed {
			failed++
		}
	}
	o.logger.InfoContext(ctx, "job completed", "job_id", jobID, "units", job.TotalUnits, "failed_units", failed)

	o.notifier.JobCompleted(job)
	o.archive(ctx, job)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	msg := cause.Error()
	now := time.Now()
	job, err := o.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.ErrorMessage = &msg
		j.CurrentStep = "Failed"
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to mark job as failed", "job_id", jobID, "error", err, "cause", cause)
		return
	}

	o.logger.WarnContext(ctx, "job failed", "job_id", jobID, "error", msg)
	o.notifier.JobFailed(job)
	o.archive(ctx, job)
}

func (o *Orchestrator) cancel(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	msg := "canceled by request"
	now := time.Now()
	job, err := o.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusCanceled
		j.ErrorMessage = &msg
		j.CurrentStep = "Canceled"
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to mark job as canceled", "job_id", jobID, "error", err)
		return
	}

	o.logger.InfoContext(ctx, "job canceled", "job_id", jobID, "units_completed", job.UnitsCompleted)
	o.notifier.JobFailed(job)
	o.archive(ctx, job)
}

func (o *Orchestrator) archive(ctx context.Context, job *model.Job) {
	if o.archiver == nil {
		return
	}
	if err := o.archiver.Save(ctx, job); err != nil {
		o.logger.WarnContext(ctx, "job archive failed", "job_id", job.ID, "error", err)
	}
}
