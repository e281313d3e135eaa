package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/model"
)

func TestGroqClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.MaxTokens != 256 || len(req.Messages) != 2 || req.Messages[1].Content != "plan it" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	out, err := c.Generate(context.Background(), "plan it", 256)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok":true}` {
		t.Errorf("unexpected content %q", out)
	}
}

func TestGroqClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Generate(context.Background(), "x", 10)

	var upErr *model.UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusTooManyRequests || upErr.Retryable {
		t.Errorf("expected non-retryable 429, got %v", err)
	}
}

func TestMockReasoner(t *testing.T) {
	ctx := context.Background()
	r := MockReasoner{}

	out, _ := r.Generate(ctx, `Answer with {"recommended_units": n}`, 100)
	if !strings.Contains(out, `"recommended_units": 10`) {
		t.Errorf("unexpected advisor answer %q", out)
	}

	out, _ = r.Generate(ctx, "Plan exactly 4 slides about tides", 100)
	var deck struct {
		Units []struct {
			Title string `json:"title"`
		} `json:"units"`
	}
	body := strings.TrimSuffix(strings.TrimPrefix(out, "```json\n"), "\n```")
	if err := json.Unmarshal([]byte(body), &deck); err != nil || len(deck.Units) != 4 {
		t.Fatalf("expected 4 units, got %d (%v)", len(deck.Units), err)
	}

	out, _ = r.Generate(ctx, "Write a replacement for slide 7 only.", 100)
	if err := json.Unmarshal([]byte(out), &deck); err != nil || len(deck.Units) != 1 || deck.Units[0].Title != "Slide 7" {
		t.Errorf("unexpected replacement: %s", out)
	}
}
