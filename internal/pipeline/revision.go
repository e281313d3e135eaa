package pipeline

import (
	"fmt"

	"github.com/deckforge/api/internal/model"
)

// Resolution is the unit list a job will carry plus the media plan for it.
type Resolution struct {
	Title    string
	Subtitle string
	Units    []model.Unit
	// Regenerate holds positions in Units that are eligible for fresh media.
	Regenerate []int
	// Prior maps a unit index to its counterpart in the prior job, used as
	// the fallback when fresh media fails.
	Prior map[int]*model.Unit
	Stats *model.RevisionStats
}

// RevisionResolver merges a freshly generated structure with a prior job.
type RevisionResolver struct{}

// Resolve returns the plan for a new job. rev may be nil for a fresh deck.
// For a targeted revision structure holds the replacement unit; every other
// unit is cloned from the prior snapshot with no network calls.
func (RevisionResolver) Resolve(rev *model.RevisionInput, structure *Structure) (*Resolution, error) {
	if rev == nil || rev.PriorJob == nil {
		return freshResolution(structure), nil
	}
	if rev.TargetUnitIndex != nil {
		return resolveTargeted(rev.PriorJob, *rev.TargetUnitIndex, structure)
	}
	return resolveWhole(rev.PriorJob, structure), nil
}

func freshResolution(structure *Structure) *Resolution {
	res := &Resolution{
		Title:      structure.Title,
		Subtitle:   structure.Subtitle,
		Units:      structure.Units,
		Regenerate: make([]int, len(structure.Units)),
	}
	for i := range structure.Units {
		res.Regenerate[i] = i
	}
	return res
}

func resolveTargeted(prior *model.JobSnapshot, target int, structure *Structure) (*Resolution, error) {
	if len(structure.Units) == 0 {
		return nil, &model.StructureParseError{Reason: "no replacement unit returned"}
	}

	res := &Resolution{
		Title:    prior.Title,
		Subtitle: prior.Subtitle,
		Units:    make([]model.Unit, 0, len(prior.Units)),
		Prior:    make(map[int]*model.Unit, 1),
		Stats:    &model.RevisionStats{},
	}

	found := false
	for i := range prior.Units {
		p := prior.Units[i]
		if p.Index != target {
			u := p.Clone()
			u.Preserved = true
			res.Units = append(res.Units, u)
			res.Stats.Preserved++
			continue
		}

		found = true
		replacement := structure.Units[0]
		replacement.Index = target
		replacement.Preserved = false
		replacement.GenerationFailed = false
		replacement.ImageAsset = nil
		replacement.VideoAsset = nil

		prev := p.Clone()
		res.Prior[target] = &prev
		res.Regenerate = append(res.Regenerate, len(res.Units))
		res.Units = append(res.Units, replacement)
		res.Stats.Regenerated++
	}

	if !found {
		return nil, fmt.Errorf("target unit %d not present in prior job", target)
	}
	return res, nil
}

func resolveWhole(prior *model.JobSnapshot, structure *Structure) *Resolution {
	res := freshResolution(structure)
	res.Prior = make(map[int]*model.Unit, len(prior.Units))
	for i := range prior.Units {
		p := prior.Units[i].Clone()
		res.Prior[p.Index] = &p
	}
	res.Stats = &model.RevisionStats{Regenerated: len(res.Units)}
	return res
}

// applyFallback copies prior media onto u: video together with its image
// first, then the image alone. It reports false when nothing was usable.
func applyFallback(u *model.Unit, prior *model.Unit) bool {
	if prior == nil || prior.ImageAsset == nil {
		return false
	}
	img := *prior.ImageAsset
	u.ImageAsset = &img
	u.VideoAsset = nil
	if prior.VideoAsset != nil {
		v := *prior.VideoAsset
		u.VideoAsset = &v
	}
	u.Preserved = true
	u.GenerationFailed = false
	return true
}
