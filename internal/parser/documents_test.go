package parser

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

const testRepoURL = "https://github.com/acme/widget"

func TestDocumentID_Deterministic(t *testing.T) {
	a := DocumentID(testRepoURL, models.DocumentTypeCode, "main.go", 0)
	b := DocumentID(testRepoURL, models.DocumentTypeCode, "main.go", 0)
	if a != b {
		t.Errorf("same key gave different ids: %s vs %s", a, b)
	}

	distinct := []string{
		a,
		DocumentID(testRepoURL, models.DocumentTypeCode, "main.go", 1),
		DocumentID(testRepoURL, models.DocumentTypeCode, "other.go", 0),
		DocumentID(testRepoURL, models.DocumentTypeCommit, "main.go", 0),
		DocumentID("https://github.com/acme/gadget", models.DocumentTypeCode, "main.go", 0),
	}
	seen := map[string]bool{}
	for i, id := range distinct {
		if seen[id] {
			t.Errorf("id %d collides: %s", i, id)
		}
		seen[id] = true
	}
}

func TestBuildCodeDocuments(t *testing.T) {
	file := models.CodeFile{
		Path:    "internal/api/server.go",
		Content: "package api\n\nfunc New() *Server {\n\treturn &Server{}\n}\n",
	}

	docs := BuildCodeDocuments(testRepoURL, "widget", file, DefaultChunkConfig())
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}

	d := docs[0]
	if d.Type != models.DocumentTypeCode {
		t.Errorf("Type = %s", d.Type)
	}
	if !strings.HasPrefix(d.Content, "File: internal/api/server.go\nLines: 1-") {
		t.Errorf("content missing provenance header: %q", d.Content[:40])
	}
	if d.Metadata.FilePath != file.Path || d.Metadata.StartLine != 1 {
		t.Errorf("metadata = %+v", d.Metadata)
	}
	if loc := d.SourceLocation(); !strings.HasPrefix(loc, "internal/api/server.go:1-") {
		t.Errorf("SourceLocation() = %q", loc)
	}
}

func TestBuildCodeDocuments_Idempotent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "func op%d() int {\n\treturn %d * %d\n}\n\n", i, i, i)
	}
	file := models.CodeFile{Path: "ops.go", Content: b.String()}

	first := BuildCodeDocuments(testRepoURL, "widget", file, DefaultChunkConfig())
	second := BuildCodeDocuments(testRepoURL, "widget", file, DefaultChunkConfig())

	if !reflect.DeepEqual(first, second) {
		t.Fatal("re-chunking identical input produced different documents")
	}
	ids := map[string]bool{}
	for _, d := range first {
		if ids[d.ID] {
			t.Errorf("duplicate document id %s", d.ID)
		}
		ids[d.ID] = true
	}
}

func TestBuildCommitDocuments(t *testing.T) {
	date := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("small commit single document", func(t *testing.T) {
		rec := models.CommitRecord{
			SHA:     "3f9ae1b2c4d5e6f708192a3b4c5d6e7f80913f9a",
			Author:  "Dana Fields",
			Date:    date,
			Message: "fix retry backoff cap",
			Diff:    "diff --git a/retry.go b/retry.go\n@@ -1,2 +1,2 @@\n-  cap := 0\n+  cap := max\n",
		}
		docs := BuildCommitDocuments(testRepoURL, "widget", rec, DefaultChunkConfig())
		if len(docs) != 1 {
			t.Fatalf("got %d documents, want 1", len(docs))
		}
		d := docs[0]
		if !strings.Contains(d.Content, "Commit: "+rec.SHA) || !strings.Contains(d.Content, "Changes:") {
			t.Errorf("content missing commit framing:\n%s", d.Content)
		}
		if d.SourceLocation() != "Commit 3f9ae1b2" {
			t.Errorf("SourceLocation() = %q", d.SourceLocation())
		}
	})

	t.Run("large diff splits with repeated header", func(t *testing.T) {
		var diff strings.Builder
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&diff, "diff --git a/f%d.go b/f%d.go\n@@ -1,20 +1,20 @@\n", i, i)
			for j := 0; j < 20; j++ {
				fmt.Fprintf(&diff, "+line %d of file %d\n", j, i)
			}
		}
		rec := models.CommitRecord{
			SHA:     "aaaabbbbccccddddeeeeffff0000111122223333",
			Author:  "Dana Fields",
			Date:    date,
			Message: "rework storage layout",
			Diff:    diff.String(),
		}
		docs := BuildCommitDocuments(testRepoURL, "widget", rec, DefaultChunkConfig())
		if len(docs) < 2 {
			t.Fatalf("got %d documents, want several", len(docs))
		}
		for i, d := range docs {
			if !strings.Contains(d.Content, "Commit: "+rec.SHA) {
				t.Errorf("doc[%d] missing commit header", i)
			}
			if d.Metadata.ChunkIndex != i {
				t.Errorf("doc[%d].ChunkIndex = %d", i, d.Metadata.ChunkIndex)
			}
		}
	})

	t.Run("diff truncated at cap", func(t *testing.T) {
		rec := models.CommitRecord{
			SHA:     "1234123412341234123412341234123412341234",
			Author:  "Dana Fields",
			Date:    date,
			Message: "vendor update",
			Diff:    strings.Repeat("+x\n", maxCommitDiffChars),
		}
		docs := BuildCommitDocuments(testRepoURL, "widget", rec, DefaultChunkConfig())
		total := 0
		for _, d := range docs {
			total += len(d.Content)
		}
		if total > maxCommitDiffChars+2048 {
			t.Errorf("truncation did not apply, total content %d chars", total)
		}
	})
}

func TestBuildIssueDocuments(t *testing.T) {
	tests := []struct {
		name     string
		issue    models.IssueRecord
		wantZero bool
		contains []string
	}{
		{
			name:     "empty issue yields nothing",
			issue:    models.IssueRecord{Number: 7},
			wantZero: false, // header alone still carries the title line
			contains: []string{"Issue #7"},
		},
		{
			name: "issue with labels and comments",
			issue: models.IssueRecord{
				Number: 42,
				Title:  "ingestion hangs on empty repo",
				State:  "open",
				Author: "jmalk",
				Labels: []string{"bug", "ingestion"},
				Body:   "Cloning an empty repository never reaches the extraction stage.",
				Comments: []models.IssueComment{
					{Author: "rgruber", Body: "Reproduced on v0.3."},
				},
			},
			contains: []string{
				"Issue #42: ingestion hangs on empty repo",
				"State: open",
				"Labels: bug, ingestion",
				"Comment by rgruber:",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := BuildIssueDocuments(testRepoURL, "widget", tt.issue, DefaultChunkConfig())
			if tt.wantZero {
				if len(docs) != 0 {
					t.Fatalf("got %d documents, want 0", len(docs))
				}
				return
			}
			if len(docs) == 0 {
				t.Fatal("got no documents")
			}
			for _, want := range tt.contains {
				if !strings.Contains(docs[0].Content, want) {
					t.Errorf("content missing %q:\n%s", want, docs[0].Content)
				}
			}
		})
	}
}

func TestBuildIssueDocuments_CommentCap(t *testing.T) {
	is := models.IssueRecord{
		Number: 9,
		Title:  "flaky stream test",
		State:  "open",
		Author: "dev",
		Body:   "Stream test fails intermittently.",
	}
	for i := 0; i < 25; i++ {
		is.Comments = append(is.Comments, models.IssueComment{
			Author: "dev",
			Body:   fmt.Sprintf("observation %d", i),
		})
	}

	docs := BuildIssueDocuments(testRepoURL, "widget", is, DefaultChunkConfig())
	joined := ""
	for _, d := range docs {
		joined += d.Content
	}
	if strings.Contains(joined, "observation 15") {
		t.Error("comments beyond the cap were included")
	}
	if !strings.Contains(joined, "observation 9") {
		t.Error("comments within the cap were dropped")
	}
}

func TestBuildPullRequestDocuments_MergedState(t *testing.T) {
	pr := models.PullRequestRecord{
		Number: 101,
		Title:  "add streaming endpoint",
		State:  "closed",
		Merged: true,
		Author: "rgruber",
		Body:   "Adds the SSE endpoint.",
	}
	docs := BuildPullRequestDocuments(testRepoURL, "widget", pr, DefaultChunkConfig())
	if len(docs) == 0 {
		t.Fatal("got no documents")
	}
	if !strings.Contains(docs[0].Content, "State: merged") {
		t.Errorf("merged PR not marked merged:\n%s", docs[0].Content)
	}
	if docs[0].SourceLocation() != "Pull Request #101" {
		t.Errorf("SourceLocation() = %q", docs[0].SourceLocation())
	}
}

func TestIsExtractableFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"cmd/main.go", true},
		{"README.md", true},
		{"script.PY", true},
		{"image.png", false},
		{"binary", false},
		{"archive.tar.gz", false},
	}
	for _, tt := range tests {
		if got := IsExtractableFile(tt.path); got != tt.want {
			t.Errorf("IsExtractableFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
