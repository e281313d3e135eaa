// Package pipeline turns a deck request into a finished job: structure
// generation, revision resolution and batched media generation.
package pipeline

import (
	"context"
	"time"

	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/model"
)

// Reasoner is a text-generation service.
type Reasoner interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ImageGenerator renders a still image for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error)
}

// VideoAnimator turns a still image into a short clip.
type VideoAnimator interface {
	Animate(ctx context.Context, image []byte, motion model.MotionParams) (*model.VideoAsset, error)
}

// AssetStore persists generated image bytes and returns a reference.
type AssetStore interface {
	SaveImage(ctx context.Context, key string, data []byte, contentType string) (*model.ImageAsset, error)
}

// JobStore is the durable job record. Update applies patch as a single
// atomic read-modify-write and returns model.ErrJobTerminal when the job
// has already reached a terminal status.
type JobStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, patch func(*model.Job) error) (*model.Job, error)
}

// Notifier receives a copy of the job after every checkpoint.
type Notifier interface {
	JobProgress(job *model.Job)
	JobCompleted(job *model.Job)
	JobFailed(job *model.Job)
}

// Archiver keeps terminal jobs beyond the job store's retention.
type Archiver interface {
	Save(ctx context.Context, job *model.Job) error
}

// Notifiers fans a checkpoint out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) JobProgress(job *model.Job) {
	for _, n := range ns {
		n.JobProgress(job)
	}
}

func (ns Notifiers) JobCompleted(job *model.Job) {
	for _, n := range ns {
		n.JobCompleted(job)
	}
}

func (ns Notifiers) JobFailed(job *model.Job) {
	for _, n := range ns {
		n.JobFailed(job)
	}
}

// Config holds the orchestration constants.
type Config struct {
	BatchSize           int
	MinUnits            int
	MaxUnits            int
	DefaultUnits        int
	MaxStructureUnits   int
	StructureMaxTokens  int
	AdvisorMaxTokens    int
	AdvisorContextChars int
	AspectRatio         string
	ImageTimeout        time.Duration
	VideoTimeout        time.Duration
	VideoMaxRetries     int
	VideoBackoffBase    time.Duration
	Motion              model.MotionParams
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:           3,
		MinUnits:            8,
		MaxUnits:            15,
		DefaultUnits:        12,
		MaxStructureUnits:   40,
		StructureMaxTokens:  8192,
		AdvisorMaxTokens:    256,
		AdvisorContextChars: 4000,
		AspectRatio:         "16:9",
		ImageTimeout:        30 * time.Second,
		VideoTimeout:        90 * time.Second,
		VideoMaxRetries:     2,
		VideoBackoffBase:    time.Second,
		Motion:              model.MotionParams{Style: "slow-zoom", DurationSeconds: 5},
	}
}

// ConfigFrom converts the loaded application config.
// Zero values fall back to DefaultConfig.
func ConfigFrom(c config.PipelineConfig) Config {
	cfg := DefaultConfig()
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.MinUnits > 0 {
		cfg.MinUnits = c.MinUnits
	}
	if c.MaxUnits > 0 {
		cfg.MaxUnits = c.MaxUnits
	}
	if c.DefaultUnits > 0 {
		cfg.DefaultUnits = c.DefaultUnits
	}
	if c.MaxStructureUnits > 0 {
		cfg.MaxStructureUnits = c.MaxStructureUnits
	}
	if c.StructureMaxTokens > 0 {
		cfg.StructureMaxTokens = c.StructureMaxTokens
	}
	if c.AdvisorMaxTokens > 0 {
		cfg.AdvisorMaxTokens = c.AdvisorMaxTokens
	}
	if c.AdvisorContextChars > 0 {
		cfg.AdvisorContextChars = c.AdvisorContextChars
	}
	if c.AspectRatio != "" {
		cfg.AspectRatio = c.AspectRatio
	}
	if c.ImageTimeout > 0 {
		cfg.ImageTimeout = c.ImageTimeout
	}
	if c.VideoTimeout > 0 {
		cfg.VideoTimeout = c.VideoTimeout
	}
	if c.VideoMaxRetries >= 0 {
		cfg.VideoMaxRetries = c.VideoMaxRetries
	}
	if c.VideoBackoffBase > 0 {
		cfg.VideoBackoffBase = c.VideoBackoffBase
	}
	if c.VideoMotion != "" {
		cfg.Motion.Style = c.VideoMotion
	}
	if c.VideoDuration > 0 {
		cfg.Motion.DurationSeconds = c.VideoDuration
	}
	cfg.Motion.AspectRatio = cfg.AspectRatio
	if cfg.DefaultUnits < cfg.MinUnits || cfg.DefaultUnits > cfg.MaxUnits {
		cfg.DefaultUnits = clamp(cfg.DefaultUnits, cfg.MinUnits, cfg.MaxUnits)
	}
	return cfg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
