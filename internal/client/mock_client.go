package client

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deckforge/api/internal/model"
)

// Mock implementations used when no provider is configured, so the whole
// pipeline can run locally.

var (
	mockCountPattern  = regexp.MustCompile(`exactly (\d+) slides`)
	mockTargetPattern = regexp.MustCompile(`replacement for slide (\d+)`)
)

// onePixelPNG is a valid 1x1 transparent PNG
var onePixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// MockReasoner answers advisor and structure prompts with canned JSON
type MockReasoner struct{}

func (MockReasoner) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.Contains(prompt, "recommended_units") {
		return `{"recommended_units": 10, "rationale": "Mock advisor: ten slides suit most briefings."}`, nil
	}

	if m := mockTargetPattern.FindStringSubmatch(prompt); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return mockDeckJSON(1, idx), nil
	}

	count := 8
	if m := mockCountPattern.FindStringSubmatch(prompt); m != nil {
		count, _ = strconv.Atoi(m[1])
	}
	return "```json\n" + mockDeckJSON(count, 1) + "\n```", nil
}

func mockDeckJSON(count, firstIndex int) string {
	type unit struct {
		Title        string `json:"title"`
		Body         string `json:"body"`
		VisualType   string `json:"visual_type"`
		VisualPrompt string `json:"visual_prompt,omitempty"`
		SpeakerNotes string `json:"speaker_notes"`
	}
	visuals := []model.VisualType{model.VisualIllustration, model.VisualChart, model.VisualDiagram, model.VisualPhoto}

	units := make([]unit, count)
	for i := range units {
		n := firstIndex + i
		v := visuals[i%len(visuals)]
		units[i] = unit{
			Title:        fmt.Sprintf("Slide %d", n),
			Body:         fmt.Sprintf("Key points for slide %d.", n),
			VisualType:   string(v),
			VisualPrompt: fmt.Sprintf("A clean %s supporting slide %d", v, n),
			SpeakerNotes: "Mock speaker notes.",
		}
	}

	data, _ := json.Marshal(map[string]interface{}{
		"title":    "Mock Deck",
		"subtitle": "Generated without a reasoning provider",
		"units":    units,
	})
	return string(data)
}

// MockImageGenerator returns a tiny PNG for every prompt
type MockImageGenerator struct{}

func (MockImageGenerator) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error) {
	return append([]byte(nil), onePixelPNG...), "image/png", nil
}

// MockVideoAnimator returns a placeholder clip
type MockVideoAnimator struct{}

func (MockVideoAnimator) Animate(ctx context.Context, image []byte, motion model.MotionParams) (*model.VideoAsset, error) {
	return &model.VideoAsset{
		URL:             "https://cdn.deckforge.dev/mock/clip.mp4",
		DurationSeconds: motion.DurationSeconds,
	}, nil
}
