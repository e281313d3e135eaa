package archive

import (
	"reflect"
	"testing"
	"time"

	"github.com/deckforge/api/internal/model"
)

func TestRecordRoundTrip(t *testing.T) {
	done := time.Now().UTC().Truncate(time.Second)
	target := 2
	job := &model.Job{
		ID:     "job-1",
		Owner:  "user-1",
		Status: model.JobStatusCompleted,
		Input: model.JobInput{
			Topic: "Q1 review",
			Revision: &model.RevisionInput{
				Instruction:     "more data",
				TargetUnitIndex: &target,
				PriorJob:        &model.JobSnapshot{ID: "job-0"},
			},
		},
		Title:      "Q1",
		TotalUnits: 2,
		Units: []model.Unit{
			{Index: 1, Title: "a", ImageAsset: &model.ImageAsset{URL: "https://cdn.test/a.png"}},
			{Index: 2, Title: "b", GenerationFailed: true},
		},
		CreatedAt:   done.Add(-time.Minute),
		CompletedAt: &done,
	}

	rec, err := toRecord(job)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FailedUnits != 1 || rec.Topic != "Q1 review" || rec.Status != "COMPLETED" {
		t.Errorf("unexpected record columns: %+v", rec)
	}
	if rec.PriorJobID == nil || *rec.PriorJobID != "job-0" {
		t.Errorf("expected prior job id column, got %v", rec.PriorJobID)
	}

	back, err := fromRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Units, job.Units) || back.Owner != job.Owner || !back.CompletedAt.Equal(done) {
		t.Errorf("job changed through the archive: %+v", back)
	}
}

func TestFromRecord_Corrupt(t *testing.T) {
	if _, err := fromRecord(&DeckRecord{ID: "x", Payload: "{not json"}); err == nil {
		t.Error("expected error for corrupt payload")
	}
}
