package model

// MotionParams tells the video service how to animate a still image
type MotionParams struct {
	Style           string  `json:"style"`
	DurationSeconds float64 `json:"duration_seconds"`
	AspectRatio     string  `json:"aspect_ratio,omitempty"`
	Prompt          string  `json:"prompt,omitempty"`
}
