package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deckforge/api/internal/model"
)

// StructureRequest is everything the structure prompt is built from.
type StructureRequest struct {
	Topic     string
	Audience  string
	Style     model.Style
	UnitCount int
	Context   string
	Revision  *model.RevisionInput
}

// Structure is the parsed deck outline. Unit indices are 1-based and
// contiguous; for a targeted revision Units holds the single replacement.
type Structure struct {
	Title    string
	Subtitle string
	Units    []model.Unit
}

// StructureGenerator prompts the reasoning service for a deck outline.
type StructureGenerator struct {
	reasoner  Reasoner
	maxTokens int
	maxUnits  int
	logger    *slog.Logger
}

func NewStructureGenerator(reasoner Reasoner, cfg Config) *StructureGenerator {
	return &StructureGenerator{
		reasoner:  reasoner,
		maxTokens: cfg.StructureMaxTokens,
		maxUnits:  cfg.MaxStructureUnits,
		logger:    slog.Default().With("component", "structure_generator"),
	}
}

type rawDeck struct {
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	Units    []rawUnit `json:"units"`
}

type rawUnit struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	VisualType   string `json:"visual_type"`
	VisualPrompt string `json:"visual_prompt"`
	SpeakerNotes string `json:"speaker_notes"`
}

// Generate returns a *model.StructureParseError when the response holds no
// usable unit list; reasoning failures are returned wrapped.
func (g *StructureGenerator) Generate(ctx context.Context, req StructureRequest) (*Structure, error) {
	prompt := g.buildPrompt(req)

	raw, err := g.reasoner.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}

	structure, err := g.parse(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "structure response rejected", "error", err, "response_len", len(raw))
		return nil, err
	}

	g.logger.InfoContext(ctx, "structure generated",
		"requested", req.UnitCount,
		"units", len(structure.Units),
		"title", structure.Title,
	)
	return structure, nil
}

func (g *StructureGenerator) parse(raw string) (*Structure, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, &model.StructureParseError{Reason: "no JSON object in response"}
	}

	var deck rawDeck
	if err := json.Unmarshal([]byte(obj), &deck); err != nil {
		return nil, &model.StructureParseError{Reason: "invalid JSON", Err: err}
	}

	units := make([]model.Unit, 0, len(deck.Units))
	for _, ru := range deck.Units {
		if strings.TrimSpace(ru.Title) == "" && strings.TrimSpace(ru.Body) == "" {
			continue
		}
		if g.maxUnits > 0 && len(units) == g.maxUnits {
			break
		}
		u := normalizeUnit(ru)
		u.Index = len(units) + 1
		units = append(units, u)
	}

	if len(units) == 0 {
		return nil, &model.StructureParseError{Reason: "response contains no units"}
	}

	return &Structure{
		Title:    strings.TrimSpace(deck.Title),
		Subtitle: strings.TrimSpace(deck.Subtitle),
		Units:    units,
	}, nil
}

// normalizeUnit enforces visualPrompt being set iff visualType is not none.
func normalizeUnit(ru rawUnit) model.Unit {
	prompt := strings.TrimSpace(ru.VisualPrompt)
	vt, known := model.ParseVisualType(strings.ToLower(strings.TrimSpace(ru.VisualType)))
	if !known && prompt != "" {
		vt = model.VisualIllustration
	}

	u := model.Unit{
		Title:        strings.TrimSpace(ru.Title),
		BodyText:     strings.TrimSpace(ru.Body),
		SpeakerNotes: strings.TrimSpace(ru.SpeakerNotes),
		VisualType:   vt,
	}
	if vt != model.VisualNone && prompt != "" {
		u.VisualPrompt = &prompt
	} else {
		u.VisualType = model.VisualNone
	}
	return u
}

func (g *StructureGenerator) buildPrompt(req StructureRequest) string {
	audience := req.Audience
	if audience == "" {
		audience = "a general audience"
	}

	var sb strings.Builder

	rev := req.Revision
	switch {
	case rev != nil && rev.TargetUnitIndex != nil && rev.PriorJob != nil:
		target := *rev.TargetUnitIndex
		fmt.Fprintf(&sb, "You are revising one slide of an existing %s presentation about %q for %s.\n", req.Style, req.Topic, audience)
		sb.WriteString("\nCurrent deck outline:\n")
		writeOutline(&sb, rev.PriorJob.Units)
		for _, u := range rev.PriorJob.Units {
			if u.Index == target {
				fmt.Fprintf(&sb, "\nSlide %d currently reads:\nTitle: %s\nBody: %s\n", target, u.Title, u.BodyText)
			}
		}
		fmt.Fprintf(&sb, "\nRevision instruction: %s\n", rev.Instruction)
		fmt.Fprintf(&sb, "\nWrite a replacement for slide %d only. Return exactly one unit.\n", target)

	case rev != nil && rev.PriorJob != nil:
		fmt.Fprintf(&sb, "You are revising an existing %s presentation about %q for %s.\n", req.Style, req.Topic, audience)
		sb.WriteString("\nCurrent deck outline:\n")
		writeOutline(&sb, rev.PriorJob.Units)
		fmt.Fprintf(&sb, "\nRevision instruction: %s\n", rev.Instruction)
		fmt.Fprintf(&sb, "\nProduce the full revised deck with exactly %d slides, keeping the slide order stable where possible.\n", req.UnitCount)

	default:
		fmt.Fprintf(&sb, "Create a %s presentation about %q for %s.\n", req.Style, req.Topic, audience)
		fmt.Fprintf(&sb, "Plan exactly %d slides with a clear narrative arc: opening, body, conclusion.\n", req.UnitCount)
	}

	if req.Context != "" {
		fmt.Fprintf(&sb, "\nUse this source material:\n%s\n", req.Context)
	}

	sb.WriteString(`
For each slide give a short title, concise body text, speaker notes, and a visual.
visual_type is one of: none, chart, diagram, illustration, icon, photo.
visual_prompt describes the image to generate and must be empty when visual_type is none.

Output as JSON:
{"title": "...", "subtitle": "...", "units": [{"title": "...", "body": "...", "visual_type": "illustration", "visual_prompt": "...", "speaker_notes": "..."}]}`)

	return sb.String()
}

func writeOutline(sb *strings.Builder, units []model.Unit) {
	for _, u := range units {
		fmt.Fprintf(sb, "%d. %s\n", u.Index, u.Title)
	}
}
