package model

import "time"

// Job is the persisted record of one deck generation run.
// It is owned by a single worker until it reaches a terminal status.
type Job struct {
	ID                 string         `json:"id"`
	Owner              string         `json:"owner,omitempty"`
	Status             JobStatus      `json:"status"`
	Input              JobInput       `json:"input"`
	Title              string         `json:"title,omitempty"`
	Subtitle           string         `json:"subtitle,omitempty"`
	TotalUnits         int            `json:"totalUnits"`
	UnitsCompleted     int            `json:"unitsCompleted"`
	ProgressPercent    int            `json:"progressPercent"`
	CurrentStep        string         `json:"currentStep,omitempty"`
	Units              []Unit         `json:"units"`
	ErrorMessage       *string        `json:"errorMessage,omitempty"`
	CancelRequested    bool           `json:"cancelRequested,omitempty"`
	UnitCountRationale string         `json:"unitCountRationale,omitempty"`
	RevisionStats      *RevisionStats `json:"revisionStats,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

// JobInput holds the submission parameters a job was created with.
type JobInput struct {
	Topic          string         `json:"topic"`
	Audience       string         `json:"audience,omitempty"`
	Style          Style          `json:"style"`
	UnitCount      int            `json:"unitCount,omitempty"`
	AutoUnitCount  bool           `json:"autoUnitCount"`
	GenerateImages bool           `json:"generateImages"`
	GenerateVideo  bool           `json:"generateVideo"`
	Context        string         `json:"context,omitempty"`
	Revision       *RevisionInput `json:"revision,omitempty"`
}

// RevisionInput describes a request to rework a previous job.
// TargetUnitIndex is 1-based; nil means the whole deck is revised.
type RevisionInput struct {
	Instruction     string       `json:"instruction"`
	TargetUnitIndex *int         `json:"targetUnitIndex,omitempty"`
	PriorJob        *JobSnapshot `json:"priorJob"`
}

// JobSnapshot is the part of a finished job a revision needs.
type JobSnapshot struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Units    []Unit `json:"units"`
}

// RevisionStats counts regenerated vs preserved units for cost reporting.
type RevisionStats struct {
	Regenerated int `json:"regenerated"`
	Preserved   int `json:"preserved"`
}

// Unit is one slide of the deck.
type Unit struct {
	Index            int         `json:"index"`
	Title            string      `json:"title"`
	BodyText         string      `json:"bodyText"`
	SpeakerNotes     string      `json:"speakerNotes,omitempty"`
	VisualType       VisualType  `json:"visualType"`
	VisualPrompt     *string     `json:"visualPrompt,omitempty"`
	ImageAsset       *ImageAsset `json:"imageAsset,omitempty"`
	VideoAsset       *VideoAsset `json:"videoAsset,omitempty"`
	GenerationFailed bool        `json:"generationFailed"`
	Preserved        bool        `json:"preserved"`
}

// NeedsMedia reports whether the unit asks for a generated visual.
func (u *Unit) NeedsMedia() bool {
	return u.VisualType != VisualNone && u.VisualPrompt != nil && *u.VisualPrompt != ""
}

// Clone returns a deep copy so preserved units never alias a prior job.
func (u Unit) Clone() Unit {
	c := u
	if u.VisualPrompt != nil {
		p := *u.VisualPrompt
		c.VisualPrompt = &p
	}
	if u.ImageAsset != nil {
		img := *u.ImageAsset
		c.ImageAsset = &img
	}
	if u.VideoAsset != nil {
		v := *u.VideoAsset
		c.VideoAsset = &v
	}
	return c
}

// ImageAsset references a generated still image. URL is a data URL
// when no object storage is configured.
type ImageAsset struct {
	URL         string `json:"url"`
	Key         string `json:"key,omitempty"`
	ContentType string `json:"contentType"`
	SizeBytes   int    `json:"sizeBytes"`
}

// VideoAsset references a short animation of a unit's image.
type VideoAsset struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Snapshot extracts what a later revision needs from a job.
func (j *Job) Snapshot() *JobSnapshot {
	units := make([]Unit, len(j.Units))
	for i := range j.Units {
		units[i] = j.Units[i].Clone()
	}
	return &JobSnapshot{
		ID:       j.ID,
		Title:    j.Title,
		Subtitle: j.Subtitle,
		Units:    units,
	}
}

// Task type and payload for the asynq queue
const TaskTypeDeckGenerate = "deck:generate"

type DeckTaskPayload struct {
	JobID string `json:"jobId"`
}
