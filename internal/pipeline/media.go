package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/deckforge/api/internal/model"
)

// GeneratedImage is a successful image adapter result.
type GeneratedImage struct {
	Data        []byte
	ContentType string
}

// ImageAdapter makes one bounded attempt per unit. A failure is reported as
// a nil image so the batcher can apply fallback uniformly.
type ImageAdapter struct {
	gen         ImageGenerator
	timeout     time.Duration
	aspectRatio string
	logger      *slog.Logger
}

func NewImageAdapter(gen ImageGenerator, cfg Config) *ImageAdapter {
	return &ImageAdapter{
		gen:         gen,
		timeout:     cfg.ImageTimeout,
		aspectRatio: cfg.AspectRatio,
		logger:      slog.Default().With("component", "image_adapter"),
	}
}

func (a *ImageAdapter) Generate(ctx context.Context, prompt string) *GeneratedImage {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, contentType, err := a.gen.Generate(ctx, prompt, a.aspectRatio)
	if err != nil {
		a.logger.WarnContext(ctx, "image generation failed", "error", err)
		return nil
	}
	if len(data) == 0 {
		a.logger.WarnContext(ctx, "image generation returned no data")
		return nil
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return &GeneratedImage{Data: data, ContentType: contentType}
}

// VideoAdapter animates an image with bounded retries on transient failures.
type VideoAdapter struct {
	anim        VideoAnimator
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	motion      model.MotionParams
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

func NewVideoAdapter(anim VideoAnimator, cfg Config) *VideoAdapter {
	return &VideoAdapter{
		anim:        anim,
		timeout:     cfg.VideoTimeout,
		maxRetries:  cfg.VideoMaxRetries,
		backoffBase: cfg.VideoBackoffBase,
		motion:      cfg.Motion,
		sleep:       sleepContext,
		logger:      slog.Default().With("component", "video_adapter"),
	}
}

// Animate returns the last error when every attempt failed. Only retryable
// failures are attempted again; retry n (from 1) waits base*2^n.
func (a *VideoAdapter) Animate(ctx context.Context, image []byte, prompt string) (*model.VideoAsset, error) {
	motion := a.motion
	motion.Prompt = prompt

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := a.backoffBase * time.Duration(1<<attempt)
			a.logger.InfoContext(ctx, "retrying video generation", "attempt", attempt+1, "backoff", wait, "error", lastErr)
			if err := a.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		asset, err := a.attempt(ctx, image, motion)
		if err == nil {
			return asset, nil
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}
	}

	a.logger.WarnContext(ctx, "video generation failed", "error", lastErr)
	return nil, lastErr
}

func (a *VideoAdapter) attempt(ctx context.Context, image []byte, motion model.MotionParams) (*model.VideoAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	asset, err := a.anim.Animate(ctx, image, motion)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.URL == "" {
		return nil, &model.UpstreamError{Service: "video", Message: "empty video response"}
	}
	return asset, nil
}

// isRetryable is true for 5xx responses, network errors and timeouts.
func isRetryable(err error) bool {
	var upErr *model.UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
