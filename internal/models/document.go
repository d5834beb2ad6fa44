// Package models defines data structures for the repository knowledge base.
package models

import (
	"fmt"
	"time"
)

// DocumentType identifies which repository artifact a document was derived from.
type DocumentType string

const (
	DocumentTypeCode        DocumentType = "code"
	DocumentTypeCommit      DocumentType = "commit"
	DocumentTypeIssue       DocumentType = "issue"
	DocumentTypePullRequest DocumentType = "pull_request"
)

// Document is a normalized, chunked unit of repository knowledge.
// IDs are deterministic over (repo, type, locator, chunk index), so
// re-ingesting the same repository overwrites rather than duplicates.
type Document struct {
	ID       string       `json:"id"`
	Type     DocumentType `json:"document_type"`
	RepoURL  string       `json:"repo_url"`
	RepoName string       `json:"repo_name"`
	Content  string       `json:"content"`

	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata carries per-type provenance. Only the fields relevant
// to the document's type are populated.
type DocumentMetadata struct {
	// code
	FilePath   string `json:"file_path,omitempty"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
	ChunkIndex int    `json:"chunk_index"`

	// commit
	CommitSHA string `json:"commit_sha,omitempty"`
	Author    string `json:"author,omitempty"`
	Date      string `json:"date,omitempty"`

	// issue / pull request
	IssueNumber int      `json:"issue_number,omitempty"`
	PRNumber    int      `json:"pr_number,omitempty"`
	Title       string   `json:"title,omitempty"`
	State       string   `json:"state,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// SourceLocation renders a human-readable pointer to where the document
// came from, e.g. "internal/db/client.go:10-42" or "Commit 3f9ae1b2".
func (d Document) SourceLocation() string {
	switch d.Type {
	case DocumentTypeCode:
		if d.Metadata.StartLine > 0 {
			return fmt.Sprintf("%s:%d-%d", d.Metadata.FilePath, d.Metadata.StartLine, d.Metadata.EndLine)
		}
		return d.Metadata.FilePath
	case DocumentTypeCommit:
		sha := d.Metadata.CommitSHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		return "Commit " + sha
	case DocumentTypeIssue:
		return fmt.Sprintf("Issue #%d", d.Metadata.IssueNumber)
	case DocumentTypePullRequest:
		return fmt.Sprintf("Pull Request #%d", d.Metadata.PRNumber)
	}
	return d.RepoName
}

// RetrievedSource is a scored retrieval hit returned alongside answers.
type RetrievedSource struct {
	DocumentID string       `json:"document_id"`
	Score      float64      `json:"score"`
	Location   string       `json:"location"`
	Type       DocumentType `json:"document_type"`
	RepoURL    string       `json:"repo_url"`
	Excerpt    string       `json:"excerpt"`
}

// RepositoryInfo summarizes one ingested repository, derived from the
// object-store manifest.
type RepositoryInfo struct {
	RepoURL       string    `json:"repo_url"`
	RepoName      string    `json:"repo_name"`
	DocumentCount int       `json:"document_count"`
	IngestedAt    time.Time `json:"ingested_at"`
	LastCommitSHA string    `json:"last_commit_sha,omitempty"`
}
