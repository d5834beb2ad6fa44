package service

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

func TestJobAdvanceForwardOnly(t *testing.T) {
	mgr := NewJobManager(nil, discardLogger())
	job := mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/b"})

	if err := job.advance(models.StageCloning); err != nil {
		t.Fatalf("pending -> cloning: %v", err)
	}
	// Skipping ahead is allowed; per-flag stages may be skipped.
	if err := job.advance(models.StageProcessing); err != nil {
		t.Fatalf("cloning -> processing: %v", err)
	}
	// Going backwards is not.
	if err := job.advance(models.StageExtractCode); err == nil {
		t.Error("processing -> extracting_code should be rejected")
	}
	// Staying put is not an advance.
	if err := job.advance(models.StageProcessing); err == nil {
		t.Error("processing -> processing should be rejected")
	}
}

func TestJobTerminalStagesAreFinal(t *testing.T) {
	mgr := NewJobManager(nil, discardLogger())

	job := mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/b"})
	job.complete()
	if err := job.advance(models.StageCleaningUp); err == nil {
		t.Error("completed job accepted a stage change")
	}

	job = mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/b"})
	job.fail("boom")
	snap := job.Snapshot()
	if snap.Stage != models.StageFailed || snap.Status != "failed" || snap.Error != "boom" {
		t.Errorf("snapshot = %+v", snap)
	}
	// A second failure must not overwrite the first message.
	job.fail("later")
	if job.Snapshot().Error != "boom" {
		t.Error("terminal error message was overwritten")
	}
}

func TestJobSnapshotIsConsistent(t *testing.T) {
	mgr := NewJobManager(nil, discardLogger())
	job := mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/b"})

	if err := job.advance(models.StageProcessing); err != nil {
		t.Fatal(err)
	}
	job.setProgress(3, 10)

	snap := job.Snapshot()
	if snap.Stage != models.StageProcessing || snap.Status != "running" || snap.DocumentsProcessed != 3 || snap.DocumentsTotal != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
	// Later mutation must not leak into the earlier snapshot.
	job.setProgress(9, 10)
	if snap.DocumentsProcessed != 3 {
		t.Error("snapshot aliases live job state")
	}
}

func TestJobManagerStatus(t *testing.T) {
	store := NewMemoryJobStore()
	mgr := NewJobManager(store, discardLogger())

	job := mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/b"})
	id := job.Snapshot().ID
	if id == "" || len(id) != 8 {
		t.Errorf("job id = %q, want 8 chars", id)
	}

	snap, err := mgr.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Stage != models.StagePending || snap.Status != "pending" {
		t.Errorf("stage = %s, status = %s", snap.Stage, snap.Status)
	}

	_, err = mgr.Status(context.Background(), "nope1234")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryJobStoreList(t *testing.T) {
	store := NewMemoryJobStore()
	mgr := NewJobManager(store, discardLogger())

	mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/one"})
	mgr.Create(context.Background(), models.IngestOptions{RepoURL: "https://github.com/a/two"})

	jobs, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs", len(jobs))
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), discardLogger(), "always fails", func() error {
		calls++
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != retryAttempts {
		t.Errorf("calls = %d, want %d", calls, retryAttempts)
	}
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), discardLogger(), "ok", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
