package model

// Deck styles
type Style string

const (
	StyleProfessional Style = "professional"
	StyleMinimal      Style = "minimal"
	StyleCreative     Style = "creative"
	StyleAcademic     Style = "academic"
	StyleTechnical    Style = "technical"
	StylePlayful      Style = "playful"
)

var ValidStyles = []Style{
	StyleProfessional, StyleMinimal, StyleCreative,
	StyleAcademic, StyleTechnical, StylePlayful,
}

// Visual types a unit can ask for
type VisualType string

const (
	VisualNone         VisualType = "none"
	VisualChart        VisualType = "chart"
	VisualDiagram      VisualType = "diagram"
	VisualIllustration VisualType = "illustration"
	VisualIcon         VisualType = "icon"
	VisualPhoto        VisualType = "photo"
)

var ValidVisualTypes = []VisualType{
	VisualNone, VisualChart, VisualDiagram,
	VisualIllustration, VisualIcon, VisualPhoto,
}

// ParseVisualType maps free-form model output onto a known visual type.
// The second return value is false when the input is not recognised.
func ParseVisualType(s string) (VisualType, bool) {
	for _, v := range ValidVisualTypes {
		if string(v) == s {
			return v, true
		}
	}
	return VisualNone, false
}

// Job status
type JobStatus string

const (
	JobStatusPending             JobStatus = "PENDING"
	JobStatusGeneratingStructure JobStatus = "GENERATING_STRUCTURE"
	JobStatusGeneratingUnits     JobStatus = "GENERATING_UNITS"
	JobStatusGeneratingMedia     JobStatus = "GENERATING_MEDIA"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusFailed              JobStatus = "FAILED"
	JobStatusCanceled            JobStatus = "CANCELED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}
