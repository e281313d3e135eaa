package model

import "time"

// DeckSubmitRequest is the inbound job submission
type DeckSubmitRequest struct {
	Topic          string                 `json:"topic" validate:"required,min=2,max=500"`
	Audience       string                 `json:"audience" validate:"omitempty,max=200"`
	Style          Style                  `json:"style" validate:"required,oneof=professional minimal creative academic technical playful"`
	UnitCount      *int                   `json:"unitCount" validate:"omitempty,min=1"`
	AutoUnitCount  bool                   `json:"autoUnitCount"`
	GenerateImages bool                   `json:"generateImages"`
	GenerateVideo  bool                   `json:"generateVideo"`
	Context        string                 `json:"context" validate:"omitempty,max=20000"`
	Revision       *DeckRevisionSubmitReq `json:"revision" validate:"omitempty"`
}

// DeckRevisionSubmitReq carries a full prior job snapshot inline
type DeckRevisionSubmitReq struct {
	Instruction     string       `json:"instruction" validate:"required,min=2,max=2000"`
	TargetUnitIndex *int         `json:"targetUnitIndex" validate:"omitempty,min=1"`
	PriorJob        *JobSnapshot `json:"priorJob" validate:"required"`
}

// DeckReviseRequest revises a job the service already knows about
type DeckReviseRequest struct {
	Instruction     string `json:"instruction" validate:"required,min=2,max=2000"`
	TargetUnitIndex *int   `json:"targetUnitIndex" validate:"omitempty,min=1"`
	GenerateImages  *bool  `json:"generateImages"`
	GenerateVideo   *bool  `json:"generateVideo"`
}

// DeckSubmitResponse is returned when a job is accepted
type DeckSubmitResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeckStatusResponse is the job status read model
type DeckStatusResponse struct {
	ID              string         `json:"id"`
	Status          JobStatus      `json:"status"`
	ProgressPercent int            `json:"progressPercent"`
	UnitsCompleted  int            `json:"unitsCompleted"`
	TotalUnits      int            `json:"totalUnits"`
	CurrentStep     string         `json:"currentStep,omitempty"`
	ErrorMessage    *string        `json:"errorMessage,omitempty"`
	Title           string         `json:"title,omitempty"`
	Subtitle        string         `json:"subtitle,omitempty"`
	Units           []Unit         `json:"units"`
	RevisionStats   *RevisionStats `json:"revisionStats,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// DeckCancelResponse is returned by the cancel endpoint
type DeckCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// StatusView builds the read model for a job.
func (j *Job) StatusView() *DeckStatusResponse {
	units := j.Units
	if units == nil {
		units = []Unit{}
	}
	return &DeckStatusResponse{
		ID:              j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		UnitsCompleted:  j.UnitsCompleted,
		TotalUnits:      j.TotalUnits,
		CurrentStep:     j.CurrentStep,
		ErrorMessage:    j.ErrorMessage,
		Title:           j.Title,
		Subtitle:        j.Subtitle,
		Units:           units,
		RevisionStats:   j.RevisionStats,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
