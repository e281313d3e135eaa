package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

const autoDeckBody = `{
	"topic": "Quarterly business review",
	"audience": "leadership",
	"style": "professional",
	"autoUnitCount": true,
	"generateImages": true
}`

func submitDeck(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/decks", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatalf("expected jobId in response: %v", result)
	}
	if result["status"] != "PENDING" {
		t.Errorf("expected PENDING, got %v", result["status"])
	}
	return jobID
}

func getStatus(t *testing.T, ta *testApp, jobID string) map[string]interface{} {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/decks/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

func TestDeck_SubmitRunAndFetch(t *testing.T) {
	ta := setupApp(t, 100)

	jobID := submitDeck(t, ta, autoDeckBody)
	ta.runQueued(t)

	status := getStatus(t, ta, jobID)
	if status["status"] != "COMPLETED" || status["progressPercent"] != float64(100) {
		t.Fatalf("unexpected status: %v %v", status["status"], status["progressPercent"])
	}

	units, _ := status["units"].([]interface{})
	if len(units) != 10 {
		t.Fatalf("expected 10 units from the mock advisor, got %d", len(units))
	}
	for i, raw := range units {
		u := raw.(map[string]interface{})
		if u["index"] != float64(i+1) {
			t.Errorf("unit %d has index %v", i+1, u["index"])
		}
		img, _ := u["imageAsset"].(map[string]interface{})
		if img == nil || img["url"] == "" {
			t.Errorf("unit %d has no image", i+1)
		}
	}
}

func TestDeck_TargetedRevision(t *testing.T) {
	ta := setupApp(t, 100)

	jobID := submitDeck(t, ta, autoDeckBody)
	ta.runQueued(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/decks/"+jobID+"/revise",
		`{"instruction": "Add more numbers", "targetUnitIndex": 3}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	revID, _ := parseJSON(t, resp)["jobId"].(string)

	ta.runQueued(t)

	status := getStatus(t, ta, revID)
	if status["status"] != "COMPLETED" {
		t.Fatalf("expected revision to complete, got %v", status["status"])
	}
	units, _ := status["units"].([]interface{})
	if len(units) != 10 {
		t.Fatalf("expected 10 units, got %d", len(units))
	}
	for i, raw := range units {
		u := raw.(map[string]interface{})
		if preserved := u["preserved"] == true; preserved == (i == 2) {
			t.Errorf("unit %d preserved=%v", i+1, u["preserved"])
		}
	}
	stats, _ := status["revisionStats"].(map[string]interface{})
	if stats["regenerated"] != float64(1) || stats["preserved"] != float64(9) {
		t.Errorf("unexpected revision stats: %v", stats)
	}
}

func TestDeck_Validation(t *testing.T) {
	ta := setupApp(t, 100)

	bodies := map[string]string{
		"missing topic":    `{"style": "professional", "unitCount": 5}`,
		"unknown style":    `{"topic": "x y", "style": "baroque", "unitCount": 5}`,
		"count missing":    `{"topic": "x y", "style": "minimal"}`,
		"count too high":   `{"topic": "x y", "style": "minimal", "unitCount": 31}`,
		"video, no images": `{"topic": "x y", "style": "minimal", "unitCount": 5, "generateVideo": true}`,
		"malformed":        `{"topic":`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/decks", body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}
	if n := len(ta.queue.drain()); n != 0 {
		t.Errorf("rejected requests enqueued %d tasks", n)
	}
}

func TestDeck_NoAuth(t *testing.T) {
	ta := setupApp(t, 100)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/decks", autoDeckBody, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestDeck_OtherUsersJobIsHidden(t *testing.T) {
	ta := setupApp(t, 100)
	jobID := submitDeck(t, ta, autoDeckBody)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/decks/"+jobID, "", map[string]string{
		"Authorization": "Bearer " + generateToken(t, "someone-else"),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestDeck_CancelPending(t *testing.T) {
	ta := setupApp(t, 100)
	jobID := submitDeck(t, ta, autoDeckBody)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/decks/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["status"] != "CANCELED" {
		t.Errorf("expected CANCELED, got %v", body["status"])
	}

	// The queued task finds a terminal job and does nothing.
	ta.runQueued(t)
	if status := getStatus(t, ta, jobID); status["status"] != "CANCELED" {
		t.Errorf("canceled job changed to %v", status["status"])
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/decks/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestDeck_RateLimited(t *testing.T) {
	ta := setupApp(t, 2)

	for i := 0; i < 2; i++ {
		submitDeck(t, ta, autoDeckBody)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/decks", autoDeckBody)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if body := parseJSON(t, resp); fmt.Sprint(body["error"].(map[string]interface{})["code"]) != "RATE_LIMITED" {
		t.Errorf("unexpected error body: %v", body)
	}
}
