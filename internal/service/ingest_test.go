package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/db"
	"github.com/raphaelgruber/repokb-go/internal/models"
	"github.com/raphaelgruber/repokb-go/internal/parser"
)

type stubGit struct {
	mu           sync.Mutex
	cloneErr     error
	commitsErr   error
	files        []models.CodeFile
	commits      []models.CommitRecord
	cleanupCalls int
}

func (g *stubGit) Clone(_ context.Context, _ string) (string, func(), error) {
	if g.cloneErr != nil {
		return "", nil, g.cloneErr
	}
	cleanup := func() {
		g.mu.Lock()
		g.cleanupCalls++
		g.mu.Unlock()
	}
	return "/tmp/fake-clone", cleanup, nil
}

func (g *stubGit) HeadSHA(string) (string, error) {
	return "0123456789abcdef0123456789abcdef01234567", nil
}

func (g *stubGit) ExtractCode(string) ([]models.CodeFile, error) {
	return g.files, nil
}

func (g *stubGit) ExtractCommits(_ context.Context, _ string, max int) ([]models.CommitRecord, error) {
	if g.commitsErr != nil {
		return nil, g.commitsErr
	}
	if len(g.commits) > max {
		return g.commits[:max], nil
	}
	return g.commits, nil
}

func (g *stubGit) cleanups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cleanupCalls
}

type stubIssues struct {
	issues []models.IssueRecord
	prs    []models.PullRequestRecord
}

func (s *stubIssues) ListIssues(_ context.Context, _, _ string, _ int) ([]models.IssueRecord, error) {
	return s.issues, nil
}

func (s *stubIssues) ListPullRequests(_ context.Context, _, _ string, _ int) ([]models.PullRequestRecord, error) {
	return s.prs, nil
}

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (e *stubEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubStore struct {
	mu            sync.Mutex
	failUploads   int
	uploaded      map[string][]models.Document
	manifests     []models.RepositoryInfo
	deleted       []string
	uploadAttempt int
}

func newStubStore() *stubStore {
	return &stubStore{uploaded: make(map[string][]models.Document)}
}

func (s *stubStore) UploadDocuments(_ context.Context, repoName string, docs []models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadAttempt++
	if s.uploadAttempt <= s.failUploads {
		return fmt.Errorf("transient storage error on attempt %d", s.uploadAttempt)
	}
	s.uploaded[repoName] = docs
	return nil
}

func (s *stubStore) WriteManifest(_ context.Context, info models.RepositoryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests = append(s.manifests, info)
	return nil
}

func (s *stubStore) ListRepositories(_ context.Context) ([]models.RepositoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RepositoryInfo(nil), s.manifests...), nil
}

func (s *stubStore) DeleteRepository(_ context.Context, repoName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, repoName)
	delete(s.uploaded, repoName)
	return nil
}

type stubIndex struct {
	mu        sync.Mutex
	failSyncs int
	attempt   int
	upserts   map[string]db.IndexedDocument
	deletes   []string
}

func newStubIndex() *stubIndex {
	return &stubIndex{upserts: make(map[string]db.IndexedDocument)}
}

func (i *stubIndex) QueryUpsertDocument(_ context.Context, docID string, doc db.IndexedDocument) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.attempt++
	if i.attempt <= i.failSyncs {
		return fmt.Errorf("transient index error on attempt %d", i.attempt)
	}
	i.upserts[docID] = doc
	return nil
}

func (i *stubIndex) QueryDeleteRepository(_ context.Context, repoURL string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deletes = append(i.deletes, repoURL)
	n := len(i.upserts)
	i.upserts = make(map[string]db.IndexedDocument)
	return n, nil
}

// recordingStore captures the order of stages it is asked to persist.
type recordingStore struct {
	*MemoryJobStore
	mu     sync.Mutex
	stages []models.Stage
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryJobStore: NewMemoryJobStore()}
}

func (r *recordingStore) Put(ctx context.Context, snap models.JobSnapshot) error {
	r.mu.Lock()
	if n := len(r.stages); n == 0 || r.stages[n-1] != snap.Stage {
		r.stages = append(r.stages, snap.Stage)
	}
	r.mu.Unlock()
	return r.MemoryJobStore.Put(ctx, snap)
}

func (r *recordingStore) observed() []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Stage(nil), r.stages...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestIngestService(git *stubGit, issues *stubIssues, emb *stubEmbedder, store *stubStore, index *stubIndex, jobStore JobStore) *IngestService {
	log := discardLogger()
	jobs := NewJobManager(jobStore, log)
	return NewIngestService(git, issues, emb, store, index, jobs, IngestConfig{
		Chunk:   parser.DefaultChunkConfig(),
		Workers: 2,
	}, log)
}

func waitForTerminal(t *testing.T, svc *IngestService, jobID string) models.JobSnapshot {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		snap, err := svc.jobs.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.Stage.Terminal() {
			return snap
		}
		select {
		case <-deadline:
			t.Fatalf("job %s did not finish, stuck at %s", jobID, snap.Stage)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestIngestService(&stubGit{}, &stubIssues{}, &stubEmbedder{}, newStubStore(), newStubIndex(), nil)

	tests := []struct {
		name string
		opts models.IngestOptions
	}{
		{
			name: "missing url",
			opts: models.IngestOptions{IncludeCode: true, MaxCommits: 10},
		},
		{
			name: "bad scheme",
			opts: models.IngestOptions{RepoURL: "ftp://example.com/r.git", IncludeCode: true, MaxCommits: 10},
		},
		{
			name: "no content flags",
			opts: models.IngestOptions{RepoURL: "https://github.com/acme/widgets", MaxCommits: 10},
		},
		{
			name: "negative max commits",
			opts: models.IngestOptions{RepoURL: "https://github.com/acme/widgets", IncludeCommits: true, MaxCommits: -1},
		},
		{
			name: "issues without owner repo",
			opts: models.IngestOptions{RepoURL: "https://example.com/just-a-repo", IncludeIssues: true, MaxCommits: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.opts)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitDefaultsMaxCommits(t *testing.T) {
	svc := newTestIngestService(&stubGit{}, &stubIssues{}, &stubEmbedder{}, newStubStore(), newStubIndex(), nil)

	// A code-only request may omit max_commits entirely.
	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:     "https://github.com/acme/widgets",
		IncludeCode: true,
	})
	if err != nil {
		t.Fatalf("code-only submit: %v", err)
	}
	waitForTerminal(t, svc, snap.ID)

	// When commit ingestion is requested without a limit, the default
	// bound applies.
	snap, err = svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:        "https://github.com/acme/widgets",
		IncludeCommits: true,
	})
	if err != nil {
		t.Fatalf("commit submit: %v", err)
	}
	if snap.Options.MaxCommits != defaultMaxCommits {
		t.Errorf("max commits = %d, want %d", snap.Options.MaxCommits, defaultMaxCommits)
	}
	waitForTerminal(t, svc, snap.ID)
}

func TestIngestFullPipeline(t *testing.T) {
	git := &stubGit{
		files: []models.CodeFile{
			{Path: "main.go", Content: "package main\n\nfunc main() {}\n"},
			{Path: "README.md", Content: "# Widgets\n\nA tool.\n"},
		},
		commits: []models.CommitRecord{
			{SHA: strings.Repeat("a", 40), Author: "Dev", Email: "dev@example.com", Date: time.Now(), Message: "initial import", Diff: "diff --git a/main.go b/main.go\n@@ -0,0 +1 @@\n+package main\n"},
		},
	}
	issues := &stubIssues{
		issues: []models.IssueRecord{{Number: 1, Title: "Crash on start", State: "open", Author: "alice", Body: "It crashes."}},
		prs:    []models.PullRequestRecord{{Number: 2, Title: "Fix crash", State: "closed", Author: "bob", Merged: true}},
	}
	emb := &stubEmbedder{}
	store := newStubStore()
	index := newStubIndex()
	rec := newRecordingStore()
	svc := newTestIngestService(git, issues, emb, store, index, rec)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:        "https://github.com/acme/widgets",
		IncludeCode:    true,
		IncludeCommits: true,
		IncludeIssues:  true,
		IncludePRs:     true,
		MaxCommits:     50,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Stage != models.StagePending {
		t.Fatalf("submit should return a pending job, got %s", snap.Stage)
	}

	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageCompleted {
		t.Fatalf("job failed: stage=%s error=%q", final.Stage, final.Error)
	}
	if final.CompletedAt == nil {
		t.Error("completed job should have a completion time")
	}
	if final.DocumentsTotal == 0 || final.DocumentsProcessed != final.DocumentsTotal {
		t.Errorf("progress %d/%d, want full", final.DocumentsProcessed, final.DocumentsTotal)
	}

	docs := store.uploaded["widgets"]
	if len(docs) != final.DocumentsTotal {
		t.Errorf("uploaded %d documents, want %d", len(docs), final.DocumentsTotal)
	}
	if len(index.upserts) != len(docs) {
		t.Errorf("indexed %d documents, want %d", len(index.upserts), len(docs))
	}
	if emb.callCount() != len(docs) {
		t.Errorf("embedded %d documents, want %d", emb.callCount(), len(docs))
	}
	if git.cleanups() != 1 {
		t.Errorf("clone cleanup ran %d times, want 1", git.cleanups())
	}

	if len(store.manifests) != 1 {
		t.Fatalf("wrote %d manifests, want 1", len(store.manifests))
	}
	m := store.manifests[0]
	if m.RepoName != "widgets" || m.DocumentCount != len(docs) || m.LastCommitSHA == "" {
		t.Errorf("unexpected manifest: %+v", m)
	}

	// Every stage must appear in pipeline order.
	want := []models.Stage{
		models.StagePending,
		models.StageCloning,
		models.StageExtractCode,
		models.StageExtractCommits,
		models.StageExtractIssues,
		models.StageExtractPRs,
		models.StageProcessing,
		models.StageUploading,
		models.StageSyncing,
		models.StageCleaningUp,
		models.StageCompleted,
	}
	got := rec.observed()
	gi := 0
	for _, stage := range want {
		found := false
		for ; gi < len(got); gi++ {
			if got[gi] == stage {
				found = true
				gi++
				break
			}
		}
		if !found {
			t.Fatalf("stage %s missing or out of order in %v", stage, got)
		}
	}
}

func TestIngestSkipsIssueStagesWhenNotRequested(t *testing.T) {
	git := &stubGit{files: []models.CodeFile{{Path: "a.go", Content: "package a\n"}}}
	rec := newRecordingStore()
	svc := newTestIngestService(git, &stubIssues{}, &stubEmbedder{}, newStubStore(), newStubIndex(), rec)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:     "https://github.com/acme/widgets",
		IncludeCode: true,
		MaxCommits:  1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageCompleted {
		t.Fatalf("job failed: %q", final.Error)
	}

	for _, stage := range rec.observed() {
		if stage == models.StageExtractIssues || stage == models.StageExtractPRs {
			t.Errorf("stage %s should have been skipped", stage)
		}
	}
}

func TestIngestFailureRecordsErrorAndCleansUp(t *testing.T) {
	git := &stubGit{
		commits:    []models.CommitRecord{{SHA: strings.Repeat("b", 40), Message: "x"}},
		commitsErr: errors.New("remote hung up"),
	}
	store := newStubStore()
	svc := newTestIngestService(git, &stubIssues{}, &stubEmbedder{}, store, newStubIndex(), nil)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:        "https://github.com/acme/widgets",
		IncludeCommits: true,
		MaxCommits:     10,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageFailed {
		t.Fatalf("stage = %s, want failed", final.Stage)
	}
	if !strings.Contains(final.Error, "remote hung up") {
		t.Errorf("error message %q should carry the cause", final.Error)
	}
	if git.cleanups() != 1 {
		t.Errorf("clone cleanup ran %d times, want 1", git.cleanups())
	}
	// Nothing was uploaded, so nothing should have been deleted.
	if len(store.deleted) != 0 {
		t.Errorf("unexpected store deletes: %v", store.deleted)
	}
}

func TestIngestEmbeddingFailureAborts(t *testing.T) {
	git := &stubGit{files: []models.CodeFile{{Path: "a.go", Content: "package a\n"}}}
	store := newStubStore()
	svc := newTestIngestService(git, &stubIssues{}, &stubEmbedder{err: errors.New("model unavailable")}, store, newStubIndex(), nil)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:     "https://github.com/acme/widgets",
		IncludeCode: true,
		MaxCommits:  1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageFailed {
		t.Fatalf("stage = %s, want failed", final.Stage)
	}
	if len(store.uploaded) != 0 {
		t.Error("nothing should be uploaded after an embedding failure")
	}
}

func TestIngestUploadRetriesThenSucceeds(t *testing.T) {
	git := &stubGit{files: []models.CodeFile{{Path: "a.go", Content: "package a\n"}}}
	store := newStubStore()
	store.failUploads = 1
	svc := newTestIngestService(git, &stubIssues{}, &stubEmbedder{}, store, newStubIndex(), nil)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:     "https://github.com/acme/widgets",
		IncludeCode: true,
		MaxCommits:  1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageCompleted {
		t.Fatalf("job should recover from one transient upload failure, got %s: %q", final.Stage, final.Error)
	}
	if store.uploadAttempt != 2 {
		t.Errorf("upload attempts = %d, want 2", store.uploadAttempt)
	}
}

func TestIngestEmptyRepositoryCompletes(t *testing.T) {
	git := &stubGit{}
	store := newStubStore()
	index := newStubIndex()
	svc := newTestIngestService(git, &stubIssues{}, &stubEmbedder{}, store, index, nil)

	snap, err := svc.Submit(context.Background(), models.IngestOptions{
		RepoURL:     "https://github.com/acme/empty",
		IncludeCode: true,
		MaxCommits:  1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitForTerminal(t, svc, snap.ID)
	if final.Stage != models.StageCompleted {
		t.Fatalf("empty repo should still complete, got %s: %q", final.Stage, final.Error)
	}
	if final.DocumentsTotal != 0 {
		t.Errorf("documents total = %d, want 0", final.DocumentsTotal)
	}
	if len(index.upserts) != 0 {
		t.Errorf("unexpected index writes: %d", len(index.upserts))
	}
}

func TestDeleteRepository(t *testing.T) {
	store := newStubStore()
	index := newStubIndex()
	index.upserts["doc1"] = db.IndexedDocument{}
	index.upserts["doc2"] = db.IndexedDocument{}
	svc := newTestIngestService(&stubGit{}, &stubIssues{}, &stubEmbedder{}, store, index, nil)

	deleted, err := svc.DeleteRepository(context.Background(), "https://github.com/acme/widgets")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "widgets" {
		t.Errorf("store deletes = %v, want [widgets]", store.deleted)
	}
}
