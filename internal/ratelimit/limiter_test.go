package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/model"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestAllow_FixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "decks", "user-1", 3, time.Hour)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if res.Remaining != 3-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 3-i, res.Remaining)
		}
	}

	_, err := l.Allow(ctx, "decks", "user-1", 3, time.Hour)
	var rlErr *model.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.RetryAfter <= 0 || rlErr.RetryAfter > time.Hour {
		t.Errorf("unexpected retry-after %s", rlErr.RetryAfter)
	}

	// Other callers and scopes have their own windows.
	if _, err := l.Allow(ctx, "decks", "user-2", 3, time.Hour); err != nil {
		t.Errorf("user-2 should not be limited: %v", err)
	}
	if _, err := l.Allow(ctx, "revisions", "user-1", 3, time.Hour); err != nil {
		t.Errorf("revisions scope should not be limited: %v", err)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := l.Allow(ctx, "decks", "user-1", 3, time.Hour); err != nil {
		t.Errorf("expected window reset, got %v", err)
	}
}
