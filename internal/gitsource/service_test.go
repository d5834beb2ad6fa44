package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// makeTestRepo initializes a repository with two commits: an initial
// import and a change to main.go.
func makeTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	commit := func(msg string) {
		t.Helper()
		if err := wt.AddGlob("."); err != nil {
			t.Fatalf("git add: %v", err)
		}
		_, err := wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: "Avery", Email: "avery@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	write("main.go", "package main\n\nfunc main() {}\n")
	write("README.md", "# Widget\n\nA small tool.\n")
	write("node_modules/dep.js", "module.exports = 1;\n")
	write("logo.png", "\x89PNG not really")
	commit("initial import")

	write("main.go", "package main\n\nfunc main() {\n\tprintln(\"v2\")\n}\n")
	commit("print version banner")

	return dir
}

func TestExtractCode(t *testing.T) {
	dir := makeTestRepo(t)
	svc := New(t.TempDir(), 1024*1024, nil)

	files, err := svc.ExtractCode(dir)
	if err != nil {
		t.Fatalf("ExtractCode() error = %v", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	want := map[string]bool{"main.go": true, "README.md": true}
	for _, p := range paths {
		if strings.HasPrefix(p, "node_modules/") {
			t.Errorf("extracted skipped directory file %s", p)
		}
		if strings.HasSuffix(p, ".png") {
			t.Errorf("extracted non-code file %s", p)
		}
		delete(want, p)
	}
	if len(want) != 0 {
		t.Errorf("missing files %v (got %v)", want, paths)
	}
}

func TestExtractCode_SizeCap(t *testing.T) {
	dir := makeTestRepo(t)
	svc := New(t.TempDir(), 10, nil) // everything is over 10 bytes

	files, err := svc.ExtractCode(dir)
	if err != nil {
		t.Fatalf("ExtractCode() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("size cap ignored, extracted %d files", len(files))
	}
}

func TestExtractCommits(t *testing.T) {
	dir := makeTestRepo(t)
	svc := New(t.TempDir(), 1024*1024, nil)

	commits, err := svc.ExtractCommits(context.Background(), dir, 10)
	if err != nil {
		t.Fatalf("ExtractCommits() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}

	// Newest first.
	if !strings.Contains(commits[0].Message, "print version banner") {
		t.Errorf("commits[0].Message = %q, want newest commit first", commits[0].Message)
	}
	if !strings.Contains(commits[0].Diff, "main.go") {
		t.Errorf("newest commit diff missing changed file:\n%s", commits[0].Diff)
	}
	// Root commit has no parent, so no diff.
	if commits[1].Diff != "" {
		t.Errorf("root commit diff = %q, want empty", commits[1].Diff)
	}

	limited, err := svc.ExtractCommits(context.Background(), dir, 1)
	if err != nil {
		t.Fatalf("ExtractCommits(limit 1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d commits", len(limited))
	}
}

func TestBrowse(t *testing.T) {
	origin := makeTestRepo(t)
	svc := New(t.TempDir(), 1024*1024, nil)
	ctx := context.Background()

	branches, err := svc.Branches(ctx, origin)
	if err != nil {
		t.Fatalf("Branches() error = %v", err)
	}
	if len(branches) == 0 {
		t.Fatal("no branches")
	}
	if !branches[0].IsDefault {
		t.Errorf("default branch not first: %+v", branches)
	}

	commits, err := svc.Commits(ctx, origin, branches[0].Name, 10)
	if err != nil {
		t.Fatalf("Commits() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}
	if commits[0].ShortSHA != commits[0].SHA[:8] {
		t.Errorf("ShortSHA = %q", commits[0].ShortSHA)
	}

	detail, err := svc.CommitDetail(ctx, origin, commits[0].SHA)
	if err != nil {
		t.Fatalf("CommitDetail() error = %v", err)
	}
	if len(detail.Files) != 1 || detail.Files[0].Path != "main.go" {
		t.Fatalf("detail.Files = %+v, want main.go only", detail.Files)
	}
	if detail.Files[0].Change != "modified" {
		t.Errorf("Change = %q, want modified", detail.Files[0].Change)
	}
	if detail.Additions == 0 {
		t.Error("no additions counted")
	}
	if !strings.Contains(detail.Files[0].Patch, "+") {
		t.Errorf("patch missing added lines:\n%s", detail.Files[0].Patch)
	}

	// Short hashes resolve too.
	short := commits[0].SHA[:8]
	if _, err := svc.CommitDetail(ctx, origin, short); err != nil {
		t.Errorf("CommitDetail(short sha) error = %v", err)
	}

	if _, err := svc.CommitDetail(ctx, origin, "doesnotexist"); err == nil {
		t.Error("unknown revision did not error")
	}
}

func TestRepoNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widget", "widget"},
		{"https://github.com/acme/widget.git", "widget"},
		{"git@github.com:acme/widget.git", "widget"},
		{"https://github.com/acme/widget/", "widget"},
	}
	for _, tt := range tests {
		if got := RepoNameFromURL(tt.url); got != tt.want {
			t.Errorf("RepoNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestOwnerRepoFromURL(t *testing.T) {
	tests := []struct {
		url       string
		owner     string
		name      string
		wantError bool
	}{
		{url: "https://github.com/acme/widget", owner: "acme", name: "widget"},
		{url: "https://github.com/acme/widget.git/", owner: "acme", name: "widget"},
		{url: "git@github.com:acme/widget.git", owner: "acme", name: "widget"},
		{url: "nonsense", wantError: true},
		// A single path segment must not turn the host into an owner.
		{url: "https://example.com/just-a-repo", wantError: true},
		{url: "https://example.com/", wantError: true},
		{url: "git@github.com:widget.git", wantError: true},
	}
	for _, tt := range tests {
		owner, name, err := OwnerRepoFromURL(tt.url)
		if tt.wantError {
			if err == nil {
				t.Errorf("OwnerRepoFromURL(%q) expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("OwnerRepoFromURL(%q) error = %v", tt.url, err)
			continue
		}
		if owner != tt.owner || name != tt.name {
			t.Errorf("OwnerRepoFromURL(%q) = %s/%s, want %s/%s", tt.url, owner, name, tt.owner, tt.name)
		}
	}
}
