package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/model"
)

func newTestStore(t *testing.T) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisJobStore(rdb), mr
}

func TestJobStore_UpdateIsAtomic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &model.Job{ID: "j1", Status: model.JobStatusGeneratingMedia, TotalUnits: 100}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Update(ctx, "j1", func(j *model.Job) error {
				j.UnitsCompleted++
				return nil
			}); err != nil {
				t.Errorf("update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	job, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.UnitsCompleted != 5 {
		t.Errorf("expected 5 increments, got %d", job.UnitsCompleted)
	}
}

func TestJobStore_TerminalIsImmutable(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_ = store.Create(ctx, &model.Job{ID: "j2", Status: model.JobStatusPending})
	if _, err := store.Update(ctx, "j2", func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.ProgressPercent = 100
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	_, err := store.Update(ctx, "j2", func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		return nil
	})
	if !errors.Is(err, model.ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}

	job, _ := store.Get(ctx, "j2")
	if job.Status != model.JobStatusCompleted {
		t.Errorf("terminal job changed to %s", job.Status)
	}
}

func TestJobStore_PatchErrorAbortsWrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_ = store.Create(ctx, &model.Job{ID: "j3", Status: model.JobStatusPending})
	sentinel := errors.New("stop")
	_, err := store.Update(ctx, "j3", func(j *model.Job) error {
		j.Title = "changed"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected patch error, got %v", err)
	}
	job, _ := store.Get(ctx, "j3")
	if job.Title != "" {
		t.Error("aborted patch was written")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, model.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStore_StaleIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base.Add(-3 * time.Hour) }
	_ = store.Create(ctx, &model.Job{ID: "old", Status: model.JobStatusGeneratingMedia})
	_ = store.Create(ctx, &model.Job{ID: "finished", Status: model.JobStatusGeneratingMedia})
	_, _ = store.Update(ctx, "finished", func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		return nil
	})

	store.now = func() time.Time { return base }
	_ = store.Create(ctx, &model.Job{ID: "fresh", Status: model.JobStatusPending})

	ids, err := store.StaleJobIDs(ctx, base.Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Errorf("expected only [old], got %v", ids)
	}
}
