package models

import "time"

// Stage is the lifecycle phase of an ingestion job. Transitions are
// forward-only; failed is reachable from any non-terminal stage.
type Stage string

const (
	StagePending        Stage = "pending"
	StageCloning        Stage = "cloning_repository"
	StageExtractCode    Stage = "extracting_code"
	StageExtractCommits Stage = "extracting_commits"
	StageExtractIssues  Stage = "extracting_issues"
	StageExtractPRs     Stage = "extracting_prs"
	StageProcessing     Stage = "processing_documents"
	StageUploading      Stage = "uploading_to_s3"
	StageSyncing        Stage = "syncing_knowledge_base"
	StageCleaningUp     Stage = "cleaning_up"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Terminal reports whether the stage is an end state.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// stageOrder positions stages along the pipeline for monotonicity checks.
// Terminal stages sit past every working stage.
var stageOrder = map[Stage]int{
	StagePending:        0,
	StageCloning:        1,
	StageExtractCode:    2,
	StageExtractCommits: 3,
	StageExtractIssues:  4,
	StageExtractPRs:     5,
	StageProcessing:     6,
	StageUploading:      7,
	StageSyncing:        8,
	StageCleaningUp:     9,
	StageCompleted:      10,
	StageFailed:         10,
}

// Before reports whether s comes strictly earlier in the pipeline than t.
func (s Stage) Before(t Stage) bool {
	return stageOrder[s] < stageOrder[t]
}

// Status collapses the pipeline stages into the four coarse states
// clients poll on.
func (s Stage) Status() string {
	switch s {
	case StagePending:
		return "pending"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "running"
	}
}

// IngestOptions selects which repository artifacts a job extracts.
type IngestOptions struct {
	RepoURL        string `json:"repo_url"`
	IncludeCode    bool   `json:"include_code"`
	IncludeCommits bool   `json:"include_commits"`
	IncludeIssues  bool   `json:"include_issues"`
	IncludePRs     bool   `json:"include_prs"`
	MaxCommits     int    `json:"max_commits"`
}

// JobSnapshot is a consistent, point-in-time view of an ingestion job.
// Stage and counters are captured together under the job's lock; Status
// is derived from Stage when the snapshot is taken.
type JobSnapshot struct {
	ID                 string     `json:"job_id"`
	Status             string     `json:"status"`
	Stage              Stage      `json:"stage"`
	RepoURL            string     `json:"repo_url"`
	Options            IngestOptions `json:"options"`
	DocumentsProcessed int        `json:"documents_processed"`
	DocumentsTotal     int        `json:"documents_total"`
	Error              string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}
