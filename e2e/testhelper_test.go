package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/auth"
	"github.com/deckforge/api/internal/client"
	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/handler"
	"github.com/deckforge/api/internal/middleware"
	"github.com/deckforge/api/internal/pipeline"
	"github.com/deckforge/api/internal/ratelimit"
	"github.com/deckforge/api/internal/service"
	ws "github.com/deckforge/api/internal/websocket"
	"github.com/deckforge/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// queue stands in for the asynq client and lets a test run queued tasks
// through the real worker on demand.
type queue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *queue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "e2e", Queue: "decks"}, nil
}

func (q *queue) drain() []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}

type testApp struct {
	app    *fiber.App
	queue  *queue
	worker *worker.DeckWorker
	store  *service.RedisJobStore
}

// setupApp wires the same routes as main.go against miniredis and the
// mock providers.
func setupApp(t *testing.T, decksPerHour int) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	store := service.NewRedisJobStore(redisClient)
	q := &queue{}
	hub := ws.NewHub()
	go hub.Run()

	limits := config.PipelineConfig{ManualMinUnits: 1, ManualMaxUnits: 30}
	deckService := service.NewDeckService(store, q, nil, limits)

	cfg := pipeline.DefaultConfig()
	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Store:    store,
		Reasoner: client.MockReasoner{},
		Images:   client.MockImageGenerator{},
		Videos:   client.MockVideoAnimator{},
		Notifier: hub,
	}, cfg)

	deckHandler := handler.NewDeckHandler(deckService, hub, validator.New())
	authHandler := handler.NewAuthHandler(testJWTSecret)
	healthHandler := handler.NewHealthHandler(
		map[string]handler.Pinger{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		fiber.Map{"reasoning": "mock"},
	)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(ratelimit.New(redisClient))

	app := fiber.New()
	app.Get("/health", healthHandler.Health)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())
	decks := api.Group("/decks")
	decks.Post("/", rateLimiter.DeckLimit(decksPerHour), deckHandler.Submit)
	decks.Get("/:jobId", deckHandler.Status)
	decks.Post("/:jobId/revise", rateLimiter.RevisionLimit(10000), deckHandler.Revise)
	decks.Post("/:jobId/cancel", deckHandler.Cancel)

	return &testApp{
		app:    app,
		queue:  q,
		worker: worker.NewDeckWorker(orchestrator),
		store:  store,
	}
}

// runQueued processes every queued task synchronously.
func (ta *testApp) runQueued(t *testing.T) {
	t.Helper()
	for _, task := range ta.queue.drain() {
		if err := ta.worker.ProcessTask(context.Background(), task); err != nil {
			t.Fatalf("worker failed: %v", err)
		}
	}
}

func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(testJWTSecret, userID, userID+"@example.com", 0)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as testUserID.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, testUserID),
	})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
