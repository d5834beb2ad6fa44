// Package service implements the ingestion pipeline, query engine, and
// commit browsing operations on top of the git, index, and storage layers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

// JobStore persists job snapshots. The default is in-memory; a durable
// implementation can be injected without touching the orchestrator.
type JobStore interface {
	Put(ctx context.Context, snap models.JobSnapshot) error
	Get(ctx context.Context, id string) (models.JobSnapshot, error)
	List(ctx context.Context) ([]models.JobSnapshot, error)
}

// MemoryJobStore keeps snapshots in a map. Jobs do not survive restarts.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]models.JobSnapshot
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]models.JobSnapshot)}
}

func (s *MemoryJobStore) Put(_ context.Context, snap models.JobSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[snap.ID] = snap
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (models.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.jobs[id]
	if !ok {
		return models.JobSnapshot{}, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return snap, nil
}

func (s *MemoryJobStore) List(_ context.Context) ([]models.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.JobSnapshot, 0, len(s.jobs))
	for _, snap := range s.jobs {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Job is the live, mutable state of one ingestion run. All reads and
// writes go through its lock so status snapshots are consistent.
type Job struct {
	mu   sync.RWMutex
	snap models.JobSnapshot
}

// Snapshot returns a point-in-time copy of the job state with the
// coarse status derived from the current stage.
func (j *Job) Snapshot() models.JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := j.snap
	snap.Status = snap.Stage.Status()
	return snap
}

// advance moves the job to the next stage. Transitions only go forward;
// a stale or out-of-order advance is rejected.
func (j *Job) advance(stage models.Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Stage.Terminal() {
		return fmt.Errorf("job %s is already %s", j.snap.ID, j.snap.Stage)
	}
	if !j.snap.Stage.Before(stage) {
		return fmt.Errorf("job %s: cannot move from %s to %s", j.snap.ID, j.snap.Stage, stage)
	}
	j.snap.Stage = stage
	return nil
}

func (j *Job) complete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.snap.Stage = models.StageCompleted
	j.snap.CompletedAt = &now
}

func (j *Job) fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Stage.Terminal() {
		return
	}
	now := time.Now()
	j.snap.Stage = models.StageFailed
	j.snap.Error = msg
	j.snap.CompletedAt = &now
}

func (j *Job) setProgress(processed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap.DocumentsProcessed = processed
	j.snap.DocumentsTotal = total
}

// JobManager tracks live jobs and mirrors every state change into the
// configured JobStore. Persistence failures are logged, not fatal.
type JobManager struct {
	store JobStore
	log   *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobManager(store JobStore, log *slog.Logger) *JobManager {
	if store == nil {
		store = NewMemoryJobStore()
	}
	return &JobManager{
		store: store,
		log:   log,
		jobs:  make(map[string]*Job),
	}
}

// Create registers a new pending job and returns it.
func (m *JobManager) Create(ctx context.Context, opts models.IngestOptions) *Job {
	job := &Job{snap: models.JobSnapshot{
		ID:        uuid.New().String()[:8],
		Stage:     models.StagePending,
		RepoURL:   opts.RepoURL,
		Options:   opts,
		CreatedAt: time.Now(),
	}}

	m.mu.Lock()
	m.jobs[job.snap.ID] = job
	m.mu.Unlock()

	m.persist(ctx, job)
	return job
}

// Status returns the snapshot for a job id, preferring the live job
// over the store so in-flight progress is visible immediately.
func (m *JobManager) Status(ctx context.Context, id string) (models.JobSnapshot, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if ok {
		return job.Snapshot(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns snapshots of every known job, newest first.
func (m *JobManager) List(ctx context.Context) ([]models.JobSnapshot, error) {
	return m.store.List(ctx)
}

func (m *JobManager) persist(ctx context.Context, job *Job) {
	if err := m.store.Put(ctx, job.Snapshot()); err != nil {
		m.log.Warn("failed to persist job state", "job_id", job.Snapshot().ID, "error", err)
	}
}
