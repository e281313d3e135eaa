package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deckforge/api/internal/model"
)

var errCanceled = errors.New("job canceled")

// MediaOptions are the per-job generation switches.
type MediaOptions struct {
	Images bool
	Video  bool
}

// Batcher generates media for a job in fixed-size slices. Calls inside a
// slice run concurrently; the job record is written once per slice.
type Batcher struct {
	images    *ImageAdapter
	videos    *VideoAdapter
	assets    AssetStore
	store     JobStore
	notifier  Notifier
	batchSize int
	logger    *slog.Logger
}

func NewBatcher(images *ImageAdapter, videos *VideoAdapter, assets AssetStore, store JobStore, notifier Notifier, cfg Config) *Batcher {
	return &Batcher{
		images:    images,
		videos:    videos,
		assets:    assets,
		store:     store,
		notifier:  notifier,
		batchSize: cfg.BatchSize,
		logger:    slog.Default().With("component", "media_batcher"),
	}
}

// unitOutcome is what one unit ended a slice with.
type unitOutcome struct {
	pos      int
	image    *model.ImageAsset
	video    *model.VideoAsset
	imgData  []byte
	failed   bool
	fallback bool
}

// mediaPositions filters the resolution's regeneration list down to units
// that actually ask for a visual.
func mediaPositions(res *Resolution) []int {
	var out []int
	for _, pos := range res.Regenerate {
		if res.Units[pos].NeedsMedia() {
			out = append(out, pos)
		}
	}
	return out
}

// Run processes positions batch by batch in index order and returns the
// job as last written. It stops at a batch boundary when the job was
// canceled or ctx is done.
func (b *Batcher) Run(ctx context.Context, job *model.Job, res *Resolution, positions []int, opts MediaOptions) (*model.Job, error) {
	total := BatchCount(len(positions), b.batchSize)
	current := job

	for k := 0; k < total; k++ {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if k > 0 {
			latest, err := b.store.Get(ctx, job.ID)
			if err != nil {
				return current, err
			}
			if latest.CancelRequested {
				return latest, errCanceled
			}
		}

		start := k * b.batchSize
		end := start + b.batchSize
		if end > len(positions) {
			end = len(positions)
		}
		slice := positions[start:end]

		outcomes := b.runSlice(ctx, job.ID, res, slice, opts)

		progress := BatchProgress(k+1, total)
		step := fmt.Sprintf("Generated media for batch %d of %d", k+1, total)
		updated, err := b.store.Update(ctx, job.ID, func(j *model.Job) error {
			for _, o := range outcomes {
				u := &j.Units[o.pos]
				u.ImageAsset = o.image
				u.VideoAsset = o.video
				u.GenerationFailed = o.failed
				if o.fallback {
					u.Preserved = true
					if j.RevisionStats != nil {
						j.RevisionStats.Regenerated--
						j.RevisionStats.Preserved++
					}
				}
			}
			j.UnitsCompleted += len(outcomes)
			if j.UnitsCompleted > j.TotalUnits {
				j.UnitsCompleted = j.TotalUnits
			}
			j.ProgressPercent = advance(j.ProgressPercent, progress)
			j.CurrentStep = step
			return nil
		})
		if err != nil {
			return current, err
		}
		current = updated

		// Keep the in-memory plan in sync for later slices and the caller.
		for _, o := range outcomes {
			res.Units[o.pos] = updated.Units[o.pos]
		}

		b.logger.InfoContext(ctx, "batch settled",
			"job_id", job.ID,
			"batch", k+1,
			"batches", total,
			"progress", updated.ProgressPercent,
		)
		b.notifier.JobProgress(updated)
	}

	return current, nil
}

func (b *Batcher) runSlice(ctx context.Context, jobID string, res *Resolution, slice []int, opts MediaOptions) []unitOutcome {
	outcomes := make([]unitOutcome, len(slice))

	var wg sync.WaitGroup
	for i, pos := range slice {
		wg.Add(1)
		go func(i, pos int) {
			defer wg.Done()
			outcomes[i] = b.generateImage(ctx, jobID, res.Units[pos], pos)
		}(i, pos)
	}
	wg.Wait()

	if opts.Video && b.videos != nil {
		for i := range outcomes {
			if outcomes[i].imgData == nil {
				continue
			}
			wg.Add(1)
			go func(o *unitOutcome) {
				defer wg.Done()
				u := res.Units[o.pos]
				video, err := b.videos.Animate(ctx, o.imgData, *u.VisualPrompt)
				// No prior-clip fallback here: a prior clip animates the prior image.
				if err != nil {
					b.logger.WarnContext(ctx, "unit video failed", "job_id", jobID, "unit", u.Index, "error", err)
					o.failed = true
					return
				}
				o.video = video
			}(&outcomes[i])
		}
		wg.Wait()
	}

	for i := range outcomes {
		o := &outcomes[i]
		o.imgData = nil
		if o.image != nil {
			continue
		}
		u := res.Units[o.pos]
		fb := u
		if applyFallback(&fb, res.Prior[u.Index]) {
			o.image = fb.ImageAsset
			o.video = fb.VideoAsset
			o.fallback = true
			o.failed = false
			b.logger.InfoContext(ctx, "unit fell back to prior media", "job_id", jobID, "unit", u.Index)
			continue
		}
		o.failed = true
	}

	return outcomes
}

func (b *Batcher) generateImage(ctx context.Context, jobID string, u model.Unit, pos int) unitOutcome {
	out := unitOutcome{pos: pos}

	img := b.images.Generate(ctx, *u.VisualPrompt)
	if img == nil {
		return out
	}

	asset, err := b.assets.SaveImage(ctx, assetKey(jobID, &u, img.ContentType), img.Data, img.ContentType)
	if err != nil {
		b.logger.WarnContext(ctx, "unit image could not be stored", "job_id", jobID, "unit", u.Index, "error", err)
		return out
	}

	out.image = asset
	out.imgData = img.Data
	return out
}
