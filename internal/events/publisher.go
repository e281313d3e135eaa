// Package events publishes job checkpoints on NATS so other services can
// follow deck generation without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/deckforge/api/internal/model"
)

const (
	KindProgress  = "progress"
	KindCompleted = "completed"
	KindFailed    = "failed"
	KindCanceled  = "canceled"
)

// JobEvent is the message body on every subject.
type JobEvent struct {
	Kind            string          `json:"kind"`
	JobID           string          `json:"job_id"`
	Owner           string          `json:"owner,omitempty"`
	Status          model.JobStatus `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	UnitsCompleted  int             `json:"units_completed"`
	TotalUnits      int             `json:"total_units"`
	FailedUnits     int             `json:"failed_units,omitempty"`
	CurrentStep     string          `json:"current_step,omitempty"`
	Error           string          `json:"error,omitempty"`
	Timestamp       int64           `json:"timestamp"`
}

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher satisfies pipeline.Notifier. Publish failures are logged and
// never affect the job.
type Publisher struct {
	nc     conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("deckforge-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return newPublisher(nc, prefix)
}

func newPublisher(nc conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "deckforge.jobs"
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		logger: slog.Default().With("component", "nats_publisher"),
	}
}

func (p *Publisher) JobProgress(job *model.Job) {
	p.publish(KindProgress, job)
}

func (p *Publisher) JobCompleted(job *model.Job) {
	p.publish(KindCompleted, job)
}

func (p *Publisher) JobFailed(job *model.Job) {
	kind := KindFailed
	if job.Status == model.JobStatusCanceled {
		kind = KindCanceled
	}
	p.publish(kind, job)
}

// Subject: <prefix>.<kind>.<job id>
func (p *Publisher) subject(kind, jobID string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, kind, jobID)
}

func (p *Publisher) publish(kind string, job *model.Job) {
	ev := JobEvent{
		Kind:            kind,
		JobID:           job.ID,
		Owner:           job.Owner,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		UnitsCompleted:  job.UnitsCompleted,
		TotalUnits:      job.TotalUnits,
		CurrentStep:     job.CurrentStep,
		Timestamp:       time.Now().Unix(),
	}
	if job.ErrorMessage != nil {
		ev.Error = *job.ErrorMessage
	}
	for _, u := range job.Units {
		if u.GenerationFailed {
			ev.FailedUnits++
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal job event", "job_id", job.ID, "error", err)
		return
	}

	subject := p.subject(kind, job.ID)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish job event", "subject", subject, "error", err)
		return
	}

	p.logger.Debug("job event published", "subject", subject, "progress", ev.ProgressPercent)
}
