package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

const (
	maxCommitDiffChars = 10000
	maxThreadComments  = 10
)

// DocumentID derives a stable identifier from the document's identity
// key. Re-chunking unchanged input yields the same IDs, so writes to
// the index and object store are idempotent.
func DocumentID(repoURL string, typ models.DocumentType, locator string, chunkIndex int) string {
	key := fmt.Sprintf("%s|%s|%s|%d", repoURL, typ, locator, chunkIndex)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

// codeExtensions is the allowlist of file types extracted as code.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".hpp": true, ".cs": true, ".rb": true, ".rs": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".sql": true,
	".html": true, ".css": true, ".yaml": true, ".yml": true, ".json": true,
	".toml": true, ".md": true, ".rst": true, ".txt": true,
}

// IsExtractableFile reports whether a repository path should be
// extracted as a code artifact.
func IsExtractableFile(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

func isProseFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".rst", ".txt":
		return true
	}
	return false
}

// BuildCodeDocuments chunks one source file into documents. Markdown
// and plain-text files go through prose chunking; everything else is
// split at declaration boundaries with line tracking.
func BuildCodeDocuments(repoURL, repoName string, f models.CodeFile, cfg ChunkConfig) []models.Document {
	var chunks []Chunk
	if isProseFile(f.Path) {
		if strings.EqualFold(filepath.Ext(f.Path), ".md") {
			doc, err := ParseMarkdown(f.Content)
			if err == nil {
				chunks = ChunkMarkdown(doc, cfg)
			} else {
				chunks = ChunkProse(f.Content, cfg)
			}
		} else {
			chunks = ChunkProse(f.Content, cfg)
		}
	} else {
		chunks = ChunkCode(f.Content, cfg)
	}

	docs := make([]models.Document, 0, len(chunks))
	for _, c := range chunks {
		var header string
		if c.StartLine > 0 {
			header = fmt.Sprintf("File: %s\nLines: %d-%d\n\n", f.Path, c.StartLine, c.EndLine)
		} else if c.Context != "" {
			header = fmt.Sprintf("File: %s\nSection: %s\n\n", f.Path, c.Context)
		} else {
			header = fmt.Sprintf("File: %s\n\n", f.Path)
		}
		docs = append(docs, models.Document{
			ID:       DocumentID(repoURL, models.DocumentTypeCode, f.Path, c.Index),
			Type:     models.DocumentTypeCode,
			RepoURL:  repoURL,
			RepoName: repoName,
			Content:  header + c.Content,
			Metadata: models.DocumentMetadata{
				FilePath:   f.Path,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				ChunkIndex: c.Index,
			},
		})
	}
	return docs
}

// BuildCommitDocuments turns one commit into documents. Short commits
// produce a single document; large diffs are split at hunk boundaries
// with the commit header repeated per chunk.
func BuildCommitDocuments(repoURL, repoName string, c models.CommitRecord, cfg ChunkConfig) []models.Document {
	header := fmt.Sprintf("Commit: %s\nAuthor: %s\nDate: %s\nMessage: %s\n",
		c.SHA, c.Author, c.Date.UTC().Format("2006-01-02 15:04:05"), strings.TrimSpace(c.Message))

	diff := c.Diff
	if len(diff) > maxCommitDiffChars {
		diff = diff[:maxCommitDiffChars] + "\n... (diff truncated)"
	}

	body := header
	if strings.TrimSpace(diff) != "" {
		body += "\nChanges:\n" + diff
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}

	meta := models.DocumentMetadata{
		CommitSHA: c.SHA,
		Author:    c.Author,
		Date:      c.Date.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if len(body) <= cfg.MaxSize {
		return []models.Document{{
			ID:       DocumentID(repoURL, models.DocumentTypeCommit, c.SHA, 0),
			Type:     models.DocumentTypeCommit,
			RepoURL:  repoURL,
			RepoName: repoName,
			Content:  body,
			Metadata: meta,
		}}
	}

	chunks := ChunkDiff(diff, cfg)
	if len(chunks) == 0 {
		chunks = ChunkProse(body, cfg)
	}
	docs := make([]models.Document, 0, len(chunks))
	for _, ch := range chunks {
		m := meta
		m.ChunkIndex = ch.Index
		docs = append(docs, models.Document{
			ID:       DocumentID(repoURL, models.DocumentTypeCommit, c.SHA, ch.Index),
			Type:     models.DocumentTypeCommit,
			RepoURL:  repoURL,
			RepoName: repoName,
			Content:  header + "\nChanges:\n" + ch.Content,
			Metadata: m,
		})
	}
	return docs
}

// BuildIssueDocuments turns one issue into documents, folding a bounded
// number of thread comments into the body.
func BuildIssueDocuments(repoURL, repoName string, is models.IssueRecord, cfg ChunkConfig) []models.Document {
	body := issueBody("Issue", is.Number, is.Title, is.State, is.Author, is.Labels, is.Body, is.Comments)
	if strings.TrimSpace(body) == "" {
		return nil
	}

	locator := fmt.Sprintf("issue-%d", is.Number)
	meta := models.DocumentMetadata{
		IssueNumber: is.Number,
		Title:       is.Title,
		State:       is.State,
		Labels:      is.Labels,
		Author:      is.Author,
	}
	return proseDocuments(repoURL, repoName, models.DocumentTypeIssue, locator, body, meta, cfg)
}

// BuildPullRequestDocuments turns one pull request into documents.
func BuildPullRequestDocuments(repoURL, repoName string, pr models.PullRequestRecord, cfg ChunkConfig) []models.Document {
	state := pr.State
	if pr.Merged {
		state = "merged"
	}
	body := issueBody("Pull Request", pr.Number, pr.Title, state, pr.Author, pr.Labels, pr.Body, pr.Comments)
	if strings.TrimSpace(body) == "" {
		return nil
	}

	locator := fmt.Sprintf("pr-%d", pr.Number)
	meta := models.DocumentMetadata{
		PRNumber: pr.Number,
		Title:    pr.Title,
		State:    state,
		Labels:   pr.Labels,
		Author:   pr.Author,
	}
	return proseDocuments(repoURL, repoName, models.DocumentTypePullRequest, locator, body, meta, cfg)
}

func issueBody(kind string, number int, title, state, author string, labels []string, body string, comments []models.IssueComment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d: %s\nState: %s\nAuthor: %s\n", kind, number, title, state, author)
	if len(labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(labels, ", "))
	}
	if strings.TrimSpace(body) != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(body))
	}

	n := len(comments)
	if n > maxThreadComments {
		n = maxThreadComments
	}
	for _, c := range comments[:n] {
		if strings.TrimSpace(c.Body) == "" {
			continue
		}
		fmt.Fprintf(&b, "\nComment by %s:\n%s\n", c.Author, strings.TrimSpace(c.Body))
	}
	return b.String()
}

func proseDocuments(repoURL, repoName string, typ models.DocumentType, locator, body string, meta models.DocumentMetadata, cfg ChunkConfig) []models.Document {
	chunks := ChunkProse(body, cfg)
	docs := make([]models.Document, 0, len(chunks))
	for _, c := range chunks {
		m := meta
		m.ChunkIndex = c.Index
		docs = append(docs, models.Document{
			ID:       DocumentID(repoURL, typ, locator, c.Index),
			Type:     typ,
			RepoURL:  repoURL,
			RepoName: repoName,
			Content:  c.Content,
			Metadata: m,
		})
	}
	return docs
}
