package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Recommendation is the advisor's answer. Fallback is true when the
// default count was used because the reasoning call failed.
type Recommendation struct {
	Count     int
	Rationale string
	Fallback  bool
}

// UnitCountAdvisor asks the reasoning service how many slides a deck needs.
type UnitCountAdvisor struct {
	reasoner     Reasoner
	minUnits     int
	maxUnits     int
	defaultUnits int
	maxTokens    int
	contextChars int
	logger       *slog.Logger
}

func NewUnitCountAdvisor(reasoner Reasoner, cfg Config) *UnitCountAdvisor {
	return &UnitCountAdvisor{
		reasoner:     reasoner,
		minUnits:     cfg.MinUnits,
		maxUnits:     cfg.MaxUnits,
		defaultUnits: cfg.DefaultUnits,
		maxTokens:    cfg.AdvisorMaxTokens,
		contextChars: cfg.AdvisorContextChars,
		logger:       slog.Default().With("component", "unit_count_advisor"),
	}
}

// Recommend never fails: any upstream or parse problem yields the default count.
func (a *UnitCountAdvisor) Recommend(ctx context.Context, topic, audience, contextText string) Recommendation {
	raw, err := a.reasoner.Generate(ctx, a.buildPrompt(topic, audience, contextText), a.maxTokens)
	if err != nil {
		a.logger.WarnContext(ctx, "advisor call failed, using default", "error", err, "default", a.defaultUnits)
		return a.fallback("reasoning service unavailable")
	}

	count, rationale, err := parseRecommendation(raw)
	if err != nil {
		a.logger.WarnContext(ctx, "advisor response unusable, using default", "error", err, "default", a.defaultUnits)
		return a.fallback("recommendation could not be parsed")
	}

	clamped := clamp(count, a.minUnits, a.maxUnits)
	if clamped != count {
		a.logger.InfoContext(ctx, "advisor recommendation clamped", "recommended", count, "clamped", clamped)
	}

	return Recommendation{Count: clamped, Rationale: rationale}
}

func (a *UnitCountAdvisor) fallback(reason string) Recommendation {
	return Recommendation{
		Count:     a.defaultUnits,
		Rationale: fmt.Sprintf("Default of %d slides used: %s.", a.defaultUnits, reason),
		Fallback:  true,
	}
}

func (a *UnitCountAdvisor) buildPrompt(topic, audience, contextText string) string {
	if audience == "" {
		audience = "a general audience"
	}
	if len(contextText) > a.contextChars {
		contextText = contextText[:a.contextChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recommend how many slides a presentation about %q for %s should have.\n", topic, audience)
	fmt.Fprintf(&sb, "The answer must be between %d and %d slides.\n", a.minUnits, a.maxUnits)
	if contextText != "" {
		fmt.Fprintf(&sb, "\nSource material (may be truncated):\n%s\n", contextText)
	}
	sb.WriteString("\nGive one integer and a one-sentence rationale.\n")
	sb.WriteString(`Output as JSON: {"recommended_units": 10, "rationale": "..."}`)
	return sb.String()
}

func parseRecommendation(raw string) (int, string, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return 0, "", fmt.Errorf("no JSON object in response")
	}

	var rec struct {
		RecommendedUnits *int   `json:"recommended_units"`
		Rationale        string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(obj), &rec); err != nil {
		return 0, "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if rec.RecommendedUnits == nil {
		return 0, "", fmt.Errorf("recommended_units missing")
	}

	return *rec.RecommendedUnits, strings.TrimSpace(rec.Rationale), nil
}
