package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/model"
	"github.com/deckforge/api/internal/service"
)

type failedRecorder struct {
	failed []string
}

func (f *failedRecorder) JobProgress(job *model.Job)  {}
func (f *failedRecorder) JobCompleted(job *model.Job) {}
func (f *failedRecorder) JobFailed(job *model.Job)    { f.failed = append(f.failed, job.ID) }

type savedJobs map[string]*model.Job

func (s savedJobs) Save(ctx context.Context, job *model.Job) error {
	s[job.ID] = job
	return nil
}

func TestSweep_FailsStaleJobsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := service.NewRedisJobStore(rdb)
	ctx := context.Background()

	_ = store.Create(ctx, &model.Job{ID: "running", Status: model.JobStatusGeneratingMedia})
	_ = store.Create(ctx, &model.Job{ID: "gone", Status: model.JobStatusPending})
	mr.Del("job:gone")

	rec := &failedRecorder{}
	saved := savedJobs{}
	r := New(store, rec, saved, time.Minute, time.Hour)
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped job, got %d", n)
	}

	job, err := store.Get(ctx, "running")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusFailed || job.ErrorMessage == nil || *job.ErrorMessage != reapedMessage {
		t.Errorf("unexpected reaped job: %+v", job)
	}
	if len(rec.failed) != 1 || rec.failed[0] != "running" {
		t.Errorf("expected failure notification for running, got %v", rec.failed)
	}
	if _, ok := saved["running"]; !ok {
		t.Error("reaped job was not archived")
	}

	n, err = r.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second sweep reaped %d jobs", n)
	}
	if ids, _ := store.StaleJobIDs(ctx, time.Now().Add(time.Hour)); len(ids) != 0 {
		t.Errorf("expected empty active index, got %v", ids)
	}
}

func TestSweep_LeavesFreshJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := service.NewRedisJobStore(rdb)
	ctx := context.Background()

	_ = store.Create(ctx, &model.Job{ID: "fresh", Status: model.JobStatusGeneratingStructure})

	r := New(store, nil, nil, time.Minute, time.Hour)
	if n, err := r.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing reaped, got %d %v", n, err)
	}

	job, _ := store.Get(ctx, "fresh")
	if job.Status != model.JobStatusGeneratingStructure {
		t.Errorf("fresh job changed to %s", job.Status)
	}
	if _, err := store.Update(ctx, "fresh", func(j *model.Job) error { return nil }); errors.Is(err, model.ErrJobTerminal) {
		t.Error("fresh job became terminal")
	}
}
