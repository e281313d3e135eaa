package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/model"
)

const deckQueue = "decks"

// Enqueuer is the part of *asynq.Client the service needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobFinder looks up jobs that have left the Redis store.
type JobFinder interface {
	Find(ctx context.Context, id string) (*model.Job, error)
}

// DeckService accepts deck submissions and exposes the job read model.
type DeckService struct {
	store    *RedisJobStore
	enqueuer Enqueuer
	archive  JobFinder
	limits   config.PipelineConfig
	logger   *slog.Logger
}

func NewDeckService(store *RedisJobStore, enqueuer Enqueuer, archive JobFinder, limits config.PipelineConfig) *DeckService {
	if limits.ManualMinUnits <= 0 {
		limits.ManualMinUnits = 1
	}
	if limits.ManualMaxUnits <= 0 {
		limits.ManualMaxUnits = 30
	}
	return &DeckService{
		store:    store,
		enqueuer: enqueuer,
		archive:  archive,
		limits:   limits,
		logger:   slog.Default().With("component", "deck_service"),
	}
}

// Submit validates a request, creates a PENDING job and enqueues it.
func (s *DeckService) Submit(ctx context.Context, owner string, req *model.DeckSubmitRequest) (*model.DeckSubmitResponse, error) {
	input := model.JobInput{
		Topic:          strings.TrimSpace(req.Topic),
		Audience:       strings.TrimSpace(req.Audience),
		Style:          req.Style,
		AutoUnitCount:  req.AutoUnitCount,
		GenerateImages: req.GenerateImages,
		GenerateVideo:  req.GenerateVideo,
		Context:        req.Context,
	}
	if req.UnitCount != nil {
		input.UnitCount = *req.UnitCount
	}
	if req.Revision != nil {
		input.Revision = &model.RevisionInput{
			Instruction:     strings.TrimSpace(req.Revision.Instruction),
			TargetUnitIndex: req.Revision.TargetUnitIndex,
			PriorJob:        req.Revision.PriorJob,
		}
	}

	return s.create(ctx, owner, input)
}

// Revise creates a revision job whose prior snapshot is an existing job.
func (s *DeckService) Revise(ctx context.Context, owner, jobID string, req *model.DeckReviseRequest) (*model.DeckSubmitResponse, error) {
	prior, err := s.lookup(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if prior.Status != model.JobStatusCompleted {
		return nil, &model.ValidationError{Field: "jobId", Message: fmt.Sprintf("job is %s, only completed jobs can be revised", prior.Status)}
	}

	input := prior.Input
	input.UnitCount = 0
	input.AutoUnitCount = false
	if req.GenerateImages != nil {
		input.GenerateImages = *req.GenerateImages
	}
	if req.GenerateVideo != nil {
		input.GenerateVideo = *req.GenerateVideo
	}
	input.Revision = &model.RevisionInput{
		Instruction:     strings.TrimSpace(req.Instruction),
		TargetUnitIndex: req.TargetUnitIndex,
		PriorJob:        prior.Snapshot(),
	}

	return s.create(ctx, owner, input)
}

// Status returns the read model of a job owned by owner.
func (s *DeckService) Status(ctx context.Context, owner, jobID string) (*model.DeckStatusResponse, error) {
	job, err := s.lookup(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	return job.StatusView(), nil
}

// Job returns the raw job record for owner.
func (s *DeckService) Job(ctx context.Context, owner, jobID string) (*model.Job, error) {
	return s.lookup(ctx, owner, jobID)
}

// Cancel stops a job. A pending job is canceled immediately; a running job
// is flagged and stops at its next batch boundary.
func (s *DeckService) Cancel(ctx context.Context, owner, jobID string) (*model.DeckCancelResponse, error) {
	now := time.Now()
	job, err := s.store.Update(ctx, jobID, func(j *model.Job) error {
		if !ownedBy(j, owner) {
			return model.ErrJobNotFound
		}
		if j.Status == model.JobStatusPending {
			msg := "canceled by request"
			j.Status = model.JobStatusCanceled
			j.ErrorMessage = &msg
			j.CurrentStep = "Canceled"
			j.CompletedAt = &now
		}
		j.CancelRequested = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cancel requested", "job_id", jobID, "status", job.Status)
	return &model.DeckCancelResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	}, nil
}

func (s *DeckService) create(ctx context.Context, owner string, input model.JobInput) (*model.DeckSubmitResponse, error) {
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &model.Job{
		ID:          uuid.New().String(),
		Owner:       owner,
		Status:      model.JobStatusPending,
		Input:       input,
		Units:       []model.Unit{},
		CurrentStep: "Queued",
		CreatedAt:   now,
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	task, err := newDeckTask(job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(deckQueue),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		msg := "failed to enqueue job"
		_, _ = s.store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Status = model.JobStatusFailed
			j.ErrorMessage = &msg
			j.CompletedAt = &now
			return nil
		})
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.InfoContext(ctx, "deck job queued",
		"job_id", job.ID,
		"owner", owner,
		"revision", input.Revision != nil,
		"auto_units", input.AutoUnitCount,
	)

	return &model.DeckSubmitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// validate applies the rules the struct tags cannot express.
func (s *DeckService) validate(in *model.JobInput) error {
	if in.Topic == "" {
		return &model.ValidationError{Field: "topic", Message: "is required"}
	}
	if in.Style == "" {
		in.Style = model.StyleProfessional
	}
	if in.GenerateVideo && !in.GenerateImages {
		return &model.ValidationError{Field: "generateVideo", Message: "requires generateImages"}
	}

	rev := in.Revision
	targeted := rev != nil && rev.TargetUnitIndex != nil

	if !in.AutoUnitCount && !targeted && (in.UnitCount != 0 || rev == nil) {
		if in.UnitCount < s.limits.ManualMinUnits || in.UnitCount > s.limits.ManualMaxUnits {
			return &model.ValidationError{
				Field:   "unitCount",
				Message: fmt.Sprintf("must be between %d and %d when autoUnitCount is false", s.limits.ManualMinUnits, s.limits.ManualMaxUnits),
			}
		}
	}

	if rev == nil {
		return nil
	}
	if rev.Instruction == "" {
		return &model.ValidationError{Field: "revision.instruction", Message: "is required"}
	}
	if rev.PriorJob == nil || len(rev.PriorJob.Units) == 0 {
		return &model.ValidationError{Field: "revision.priorJob", Message: "must contain at least one unit"}
	}
	if targeted {
		target := *rev.TargetUnitIndex
		found := false
		for _, u := range rev.PriorJob.Units {
			if u.Index == target {
				found = true
				break
			}
		}
		if !found {
			return &model.ValidationError{
				Field:   "revision.targetUnitIndex",
				Message: fmt.Sprintf("unit %d does not exist in the prior job", target),
			}
		}
	}
	return nil
}

// lookup reads the live store first and falls back to the archive.
func (s *DeckService) lookup(ctx context.Context, owner, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, model.ErrJobNotFound) && s.archive != nil {
		job, err = s.archive.Find(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if !ownedBy(job, owner) {
		return nil, model.ErrJobNotFound
	}
	return job, nil
}

func ownedBy(job *model.Job, owner string) bool {
	return job.Owner == "" || job.Owner == owner
}

func newDeckTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.DeckTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(model.TaskTypeDeckGenerate, data), nil
}
