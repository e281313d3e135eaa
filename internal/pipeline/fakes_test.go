package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deckforge/api/internal/model"
)

// reasonerFunc adapts a function to Reasoner.
type reasonerFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f reasonerFunc) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// deckReasoner fails advisor prompts when advisorErr is set and otherwise
// returns a deck of n units, n taken from the prompt.
func deckReasoner(advisorErr error) reasonerFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "recommended_units") {
			if advisorErr != nil {
				return "", advisorErr
			}
			return `{"recommended_units": 9, "rationale": "fits"}`, nil
		}
		if strings.Contains(prompt, "replacement for slide") {
			return deckJSON(1, "Revised"), nil
		}
		var n int
		if i := strings.Index(prompt, "exactly "); i >= 0 {
			fmt.Sscanf(prompt[i:], "exactly %d slides", &n)
		}
		return "Here you go:\n```json\n" + deckJSON(n, "Slide") + "\n```", nil
	}
}

func deckJSON(n int, prefix string) string {
	units := make([]map[string]string, n)
	for i := range units {
		units[i] = map[string]string{
			"title":         fmt.Sprintf("%s %d", prefix, i+1),
			"body":          "body",
			"visual_type":   "illustration",
			"visual_prompt": fmt.Sprintf("picture %s %d", prefix, i+1),
			"speaker_notes": "notes",
		}
	}
	data, _ := json.Marshal(map[string]interface{}{"title": "Deck", "subtitle": "Sub", "units": units})
	return string(data)
}

// fakeImages fails for prompts listed in failPrompts.
type fakeImages struct {
	mu          sync.Mutex
	failPrompts map[string]bool
	calls       int
}

func (f *fakeImages) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failPrompts[prompt] {
		return nil, "", &model.UpstreamError{Service: "image", StatusCode: 500, Retryable: true, Message: "boom"}
	}
	return []byte("img:" + prompt), "image/png", nil
}

// scriptedVideos returns errs in order, then succeeds.
type scriptedVideos struct {
	errs  []error
	calls atomic.Int32
}

func (s *scriptedVideos) Animate(ctx context.Context, image []byte, motion model.MotionParams) (*model.VideoAsset, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return nil, s.errs[n]
	}
	return &model.VideoAsset{URL: "https://cdn.test/clip.mp4", DurationSeconds: motion.DurationSeconds}, nil
}

// memStore is an in-memory JobStore with the same terminal-state guard as
// the Redis store.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	history []model.Job
}

func newMemStore(jobs ...*model.Job) *memStore {
	s := &memStore{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return copyJob(j), nil
}

func (s *memStore) Update(ctx context.Context, id string, patch func(*model.Job) error) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return nil, model.ErrJobTerminal
	}
	next := copyJob(j)
	if err := patch(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	s.history = append(s.history, *copyJob(next))
	return copyJob(next), nil
}

func copyJob(j *model.Job) *model.Job {
	data, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	var out model.Job
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	completed int
	failed    int
}

func (r *recordingNotifier) JobProgress(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, job.ProgressPercent)
}

func (r *recordingNotifier) JobCompleted(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recordingNotifier) JobFailed(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VideoBackoffBase = time.Millisecond
	cfg.ImageTimeout = time.Second
	cfg.VideoTimeout = time.Second
	return cfg
}

func newPendingJob(id string, in model.JobInput) *model.Job {
	return &model.Job{
		ID:        id,
		Status:    model.JobStatusPending,
		Input:     in,
		CreatedAt: time.Now(),
	}
}

var errUnavailable = errors.New("service unavailable")

// batchWrites counts the per-batch job writes recorded so far.
func (s *memStore) batchWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.history {
		if strings.HasPrefix(j.CurrentStep, "Generated media for batch") {
			n++
		}
	}
	return n
}

// slowImages keeps each call open for delay and records the peak number of
// calls in flight and how many batch writes preceded each call.
type slowImages struct {
	store *memStore
	delay time.Duration

	mu           sync.Mutex
	inFlight     int
	peak         int
	startedAfter []int
}

func (s *slowImages) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error) {
	writes := s.store.batchWrites()

	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.startedAfter = append(s.startedAfter, writes)
	s.mu.Unlock()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return []byte("img:" + prompt), "image/png", nil
}
