package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/db"
	"github.com/raphaelgruber/repokb-go/internal/gitsource"
	"github.com/raphaelgruber/repokb-go/internal/metrics"
	"github.com/raphaelgruber/repokb-go/internal/models"
	"github.com/raphaelgruber/repokb-go/internal/parser"
)

// GitSource clones repositories and extracts code and commit history.
type GitSource interface {
	Clone(ctx context.Context, repoURL string) (string, func(), error)
	HeadSHA(path string) (string, error)
	ExtractCode(root string) ([]models.CodeFile, error)
	ExtractCommits(ctx context.Context, path string, max int) ([]models.CommitRecord, error)
}

// IssueSource lists issues and pull requests for a hosted repository.
type IssueSource interface {
	ListIssues(ctx context.Context, owner, repo string, max int) ([]models.IssueRecord, error)
	ListPullRequests(ctx context.Context, owner, repo string, max int) ([]models.PullRequestRecord, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ObjectStore holds raw document JSON and per-repository manifests.
type ObjectStore interface {
	UploadDocuments(ctx context.Context, repoName string, docs []models.Document) error
	WriteManifest(ctx context.Context, info models.RepositoryInfo) error
	ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error)
	DeleteRepository(ctx context.Context, repoName string) error
}

// DocumentIndex is the searchable vector index over documents.
type DocumentIndex interface {
	QueryUpsertDocument(ctx context.Context, docID string, doc db.IndexedDocument) error
	QueryDeleteRepository(ctx context.Context, repoURL string) (int, error)
}

// IngestConfig tunes the pipeline.
type IngestConfig struct {
	Chunk     parser.ChunkConfig
	Workers   int
	MaxIssues int
	MaxPRs    int
}

// IngestService runs the staged ingestion pipeline: clone, extract,
// chunk, embed, upload, index, clean up.
type IngestService struct {
	git      GitSource
	issues   IssueSource
	embedder Embedder
	store    ObjectStore
	index    DocumentIndex
	jobs     *JobManager
	cfg      IngestConfig
	stats    *metrics.Collector
	log      *slog.Logger
}

// WithMetrics attaches a collector for per-job timing. Safe to skip.
func (s *IngestService) WithMetrics(stats *metrics.Collector) *IngestService {
	s.stats = stats
	return s
}

func NewIngestService(
	git GitSource,
	issues IssueSource,
	embedder Embedder,
	store ObjectStore,
	index DocumentIndex,
	jobs *JobManager,
	cfg IngestConfig,
	log *slog.Logger,
) *IngestService {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.Chunk.MaxSize == 0 {
		cfg.Chunk = parser.DefaultChunkConfig()
	}
	if cfg.MaxIssues < 1 {
		cfg.MaxIssues = 100
	}
	if cfg.MaxPRs < 1 {
		cfg.MaxPRs = 100
	}
	return &IngestService{
		git:      git,
		issues:   issues,
		embedder: embedder,
		store:    store,
		index:    index,
		jobs:     jobs,
		cfg:      cfg,
		log:      log,
	}
}

// defaultMaxCommits bounds history extraction when the caller does not
// set a limit.
const defaultMaxCommits = 100

// Submit validates the request, registers a job, and starts the
// pipeline in the background. It returns immediately with the job id.
func (s *IngestService) Submit(ctx context.Context, opts models.IngestOptions) (models.JobSnapshot, error) {
	if opts.MaxCommits == 0 {
		opts.MaxCommits = defaultMaxCommits
	}
	if err := validateIngestOptions(opts); err != nil {
		return models.JobSnapshot{}, err
	}

	job := s.jobs.Create(ctx, opts)
	snap := job.Snapshot()
	s.log.Info("ingestion job accepted", "job_id", snap.ID, "repo_url", opts.RepoURL)

	go s.run(job)
	return snap, nil
}

func validateIngestOptions(opts models.IngestOptions) error {
	if err := validateRepoURL(opts.RepoURL); err != nil {
		return err
	}
	if !opts.IncludeCode && !opts.IncludeCommits && !opts.IncludeIssues && !opts.IncludePRs {
		return fmt.Errorf("%w: at least one of include_code, include_commits, include_issues, include_prs must be set", ErrValidation)
	}
	if opts.IncludeCommits && opts.MaxCommits < 1 {
		return fmt.Errorf("%w: max_commits must be at least 1", ErrValidation)
	}
	if opts.IncludeIssues || opts.IncludePRs {
		if _, _, err := gitsource.OwnerRepoFromURL(opts.RepoURL); err != nil {
			return fmt.Errorf("%w: issues and pull requests need an owner/repo URL: %v", ErrValidation, err)
		}
	}
	return nil
}

// run drives one job through every stage. It owns the job from here on;
// the submitting request has already returned.
func (s *IngestService) run(job *Job) {
	ctx := context.Background()
	opts := job.Snapshot().Options
	repoName := gitsource.RepoNameFromURL(opts.RepoURL)

	jobStart := time.Now()
	defer func() {
		s.stats.RecordTiming(metrics.OpIngestJob, time.Since(jobStart))
	}()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("ingestion panicked", "job_id", job.Snapshot().ID, "panic", r)
			job.fail(fmt.Sprintf("internal error: %v", r))
			s.jobs.persist(ctx, job)
		}
	}()

	var (
		cleanupClone func()
		uploaded     bool
	)
	fail := func(err error) {
		s.log.Error("ingestion failed",
			"job_id", job.Snapshot().ID,
			"stage", job.Snapshot().Stage,
			"error", err)
		job.fail(err.Error())
		s.jobs.persist(ctx, job)
		if uploaded {
			if derr := s.store.DeleteRepository(ctx, repoName); derr != nil {
				s.log.Warn("failed to clean up uploaded objects", "repo", repoName, "error", derr)
			}
		}
		if cleanupClone != nil {
			cleanupClone()
		}
	}

	// cloning_repository
	s.setStage(ctx, job, models.StageCloning)
	dir, cleanup, err := s.git.Clone(ctx, opts.RepoURL)
	if err != nil {
		fail(fmt.Errorf("clone repository: %w", err))
		return
	}
	cleanupClone = cleanup

	headSHA, err := s.git.HeadSHA(dir)
	if err != nil {
		s.log.Warn("failed to resolve HEAD", "repo", repoName, "error", err)
	}

	// extracting_code
	s.setStage(ctx, job, models.StageExtractCode)
	var files []models.CodeFile
	if opts.IncludeCode {
		files, err = s.git.ExtractCode(dir)
		if err != nil {
			fail(fmt.Errorf("extract code: %w", err))
			return
		}
		s.log.Info("code extracted", "job_id", job.Snapshot().ID, "files", len(files))
	}

	// extracting_commits
	s.setStage(ctx, job, models.StageExtractCommits)
	var commits []models.CommitRecord
	if opts.IncludeCommits {
		commits, err = s.git.ExtractCommits(ctx, dir, opts.MaxCommits)
		if err != nil {
			fail(fmt.Errorf("extract commits: %w", err))
			return
		}
		s.log.Info("commits extracted", "job_id", job.Snapshot().ID, "commits", len(commits))
	}

	var issues []models.IssueRecord
	var prs []models.PullRequestRecord
	if opts.IncludeIssues || opts.IncludePRs {
		owner, repo, oerr := gitsource.OwnerRepoFromURL(opts.RepoURL)
		if oerr != nil {
			fail(fmt.Errorf("parse owner/repo: %w", oerr))
			return
		}

		// extracting_issues
		if opts.IncludeIssues {
			s.setStage(ctx, job, models.StageExtractIssues)
			issues, err = s.issues.ListIssues(ctx, owner, repo, s.cfg.MaxIssues)
			if err != nil {
				fail(fmt.Errorf("extract issues: %w", err))
				return
			}
			s.log.Info("issues extracted", "job_id", job.Snapshot().ID, "issues", len(issues))
		}

		// extracting_prs
		if opts.IncludePRs {
			s.setStage(ctx, job, models.StageExtractPRs)
			prs, err = s.issues.ListPullRequests(ctx, owner, repo, s.cfg.MaxPRs)
			if err != nil {
				fail(fmt.Errorf("extract pull requests: %w", err))
				return
			}
			s.log.Info("pull requests extracted", "job_id", job.Snapshot().ID, "prs", len(prs))
		}
	}

	// processing_documents
	s.setStage(ctx, job, models.StageProcessing)
	docs := s.buildDocuments(opts.RepoURL, repoName, files, commits, issues, prs)
	job.setProgress(0, len(docs))
	s.jobs.persist(ctx, job)

	embeddings, err := s.embedDocuments(ctx, job, docs)
	if err != nil {
		fail(fmt.Errorf("process documents: %w", err))
		return
	}

	// uploading_to_s3
	s.setStage(ctx, job, models.StageUploading)
	err = withRetry(ctx, s.log, "upload documents", func() error {
		if uerr := s.store.UploadDocuments(ctx, repoName, docs); uerr != nil {
			return uerr
		}
		uploaded = true
		return s.store.WriteManifest(ctx, models.RepositoryInfo{
			RepoURL:       opts.RepoURL,
			RepoName:      repoName,
			DocumentCount: len(docs),
			IngestedAt:    time.Now().UTC(),
			LastCommitSHA: headSHA,
		})
	})
	if err != nil {
		fail(err)
		return
	}

	// syncing_knowledge_base
	s.setStage(ctx, job, models.StageSyncing)
	err = withRetry(ctx, s.log, "sync knowledge base", func() error {
		for i, doc := range docs {
			indexed := toIndexedDocument(doc, embeddings[i])
			if uerr := s.index.QueryUpsertDocument(ctx, doc.ID, indexed); uerr != nil {
				return fmt.Errorf("upsert %s: %w", doc.ID, uerr)
			}
		}
		return nil
	})
	if err != nil {
		fail(err)
		return
	}

	// cleaning_up
	s.setStage(ctx, job, models.StageCleaningUp)
	cleanupClone()
	cleanupClone = nil

	job.complete()
	s.jobs.persist(ctx, job)
	s.log.Info("ingestion completed",
		"job_id", job.Snapshot().ID,
		"repo", repoName,
		"documents", len(docs))
}

func (s *IngestService) setStage(ctx context.Context, job *Job, stage models.Stage) {
	if err := job.advance(stage); err != nil {
		// Should not happen while the pipeline owns the job.
		s.log.Error("stage transition rejected", "job_id", job.Snapshot().ID, "error", err)
		return
	}
	s.jobs.persist(ctx, job)
	s.log.Info("stage changed", "job_id", job.Snapshot().ID, "stage", stage)
}

// buildDocuments chunks every extracted artifact into documents with
// deterministic ids. Output order is stable across runs.
func (s *IngestService) buildDocuments(
	repoURL, repoName string,
	files []models.CodeFile,
	commits []models.CommitRecord,
	issues []models.IssueRecord,
	prs []models.PullRequestRecord,
) []models.Document {
	var docs []models.Document
	for _, f := range files {
		docs = append(docs, parser.BuildCodeDocuments(repoURL, repoName, f, s.cfg.Chunk)...)
	}
	for _, c := range commits {
		docs = append(docs, parser.BuildCommitDocuments(repoURL, repoName, c, s.cfg.Chunk)...)
	}
	for _, is := range issues {
		docs = append(docs, parser.BuildIssueDocuments(repoURL, repoName, is, s.cfg.Chunk)...)
	}
	for _, pr := range prs {
		docs = append(docs, parser.BuildPullRequestDocuments(repoURL, repoName, pr, s.cfg.Chunk)...)
	}
	return docs
}

// embedDocuments runs the embedding worker pool. The returned slice is
// aligned with docs; a single embedding failure aborts the whole batch.
func (s *IngestService) embedDocuments(ctx context.Context, job *Job, docs []models.Document) ([][]float32, error) {
	embeddings := make([][]float32, len(docs))
	if len(docs) == 0 {
		return embeddings, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		processed atomic.Int32
		errMu     sync.Mutex
		firstErr  error
	)

	taskChan := make(chan int, len(docs))
	var wg sync.WaitGroup

	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				if ctx.Err() != nil {
					return
				}
				emb, err := s.embedder.Embed(ctx, docs[i].Content)
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("embed %s: %w", docs[i].ID, err)
					}
					errMu.Unlock()
					cancel()
					return
				}
				embeddings[i] = emb

				done := int(processed.Add(1))
				job.setProgress(done, len(docs))
				if done%25 == 0 || done == len(docs) {
					s.jobs.persist(ctx, job)
				}
			}
		}()
	}

	for i := range docs {
		taskChan <- i
	}
	close(taskChan)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return embeddings, nil
}

func toIndexedDocument(doc models.Document, embedding []float32) db.IndexedDocument {
	indexed := db.IndexedDocument{
		DocType:    string(doc.Type),
		RepoURL:    doc.RepoURL,
		RepoName:   doc.RepoName,
		Content:    doc.Content,
		Location:   doc.SourceLocation(),
		Embedding:  embedding,
		ChunkIndex: doc.Metadata.ChunkIndex,
	}
	if doc.Metadata.FilePath != "" {
		indexed.FilePath = &doc.Metadata.FilePath
	}
	if doc.Metadata.CommitSHA != "" {
		indexed.CommitSHA = &doc.Metadata.CommitSHA
	}
	if doc.Metadata.IssueNumber > 0 {
		indexed.IssueNumber = &doc.Metadata.IssueNumber
	}
	if doc.Metadata.PRNumber > 0 {
		indexed.PRNumber = &doc.Metadata.PRNumber
	}
	return indexed
}

// JobStatus returns the current snapshot for a job id.
func (s *IngestService) JobStatus(ctx context.Context, id string) (models.JobSnapshot, error) {
	return s.jobs.Status(ctx, id)
}

// ListRepositories returns the manifest of every ingested repository.
func (s *IngestService) ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].RepoName < repos[j].RepoName })
	return repos, nil
}

// DeleteRepository removes a repository's objects and index entries.
func (s *IngestService) DeleteRepository(ctx context.Context, repoURL string) (int, error) {
	repoName := gitsource.RepoNameFromURL(repoURL)
	if err := s.store.DeleteRepository(ctx, repoName); err != nil {
		return 0, fmt.Errorf("delete stored objects: %w", err)
	}
	deleted, err := s.index.QueryDeleteRepository(ctx, repoURL)
	if err != nil {
		return 0, fmt.Errorf("delete index entries: %w", err)
	}
	s.log.Info("repository deleted", "repo", repoName, "documents", deleted)
	return deleted, nil
}
