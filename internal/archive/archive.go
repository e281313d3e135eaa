// Package archive keeps terminal jobs in Postgres after their Redis record
// expires, so finished decks stay readable and revisable.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/deckforge/api/internal/model"
)

// DeckRecord is one archived job. The full job is kept as JSON; the other
// columns exist for querying.
type DeckRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Owner       string `gorm:"index;type:varchar(128)"`
	Status      string `gorm:"index;type:varchar(32)"`
	Topic       string
	Title       string
	TotalUnits  int
	FailedUnits int
	PriorJobID  *string `gorm:"index;type:varchar(64)"`
	Payload     string  `gorm:"type:jsonb"`
	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func (DeckRecord) TableName() string {
	return "deck_jobs"
}

// Store satisfies pipeline.Archiver and service.JobFinder.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates the archive table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&DeckRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the job; a job archived twice keeps its latest state.
func (s *Store) Save(ctx context.Context, job *model.Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// Find returns model.ErrJobNotFound for unknown ids.
func (s *Store) Find(ctx context.Context, id string) (*model.Job, error) {
	var rec DeckRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func toRecord(job *model.Job) (*DeckRecord, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	rec := &DeckRecord{
		ID:          job.ID,
		Owner:       job.Owner,
		Status:      string(job.Status),
		Topic:       job.Input.Topic,
		Title:       job.Title,
		TotalUnits:  job.TotalUnits,
		Payload:     string(payload),
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	for _, u := range job.Units {
		if u.GenerationFailed {
			rec.FailedUnits++
		}
	}
	if rev := job.Input.Revision; rev != nil && rev.PriorJob != nil && rev.PriorJob.ID != "" {
		id := rev.PriorJob.ID
		rec.PriorJobID = &id
	}
	return rec, nil
}

func fromRecord(rec *DeckRecord) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(rec.Payload), &job); err != nil {
		return nil, fmt.Errorf("corrupt archive record %s: %w", rec.ID, err)
	}
	return &job, nil
}
