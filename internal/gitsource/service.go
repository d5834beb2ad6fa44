// Package gitsource clones repositories and extracts their code and
// history for ingestion and browsing.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/raphaelgruber/repokb-go/internal/models"
	"github.com/raphaelgruber/repokb-go/internal/parser"
)

const (
	maxDiffChars  = 10000
	maxPatchChars = 5000
)

// skipDirs are directory names never walked during code extraction.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "target": true, "__pycache__": true, ".venv": true,
	"venv": true, ".idea": true, ".vscode": true,
}

// Service manages clones under a working directory. Browse operations
// reuse a cached clone per repository, serialized by a per-repo lock.
type Service struct {
	workDir     string
	maxFileSize int64
	log         *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(workDir string, maxFileSize int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		workDir:     workDir,
		maxFileSize: maxFileSize,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

// RepoNameFromURL derives the short repository name from its clone URL.
func RepoNameFromURL(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}

// OwnerRepoFromURL extracts "owner/name" from a GitHub-style URL, for
// API calls against the hosting platform. It understands https clone
// URLs and scp-style git@host:owner/name addresses, and requires at
// least two path segments after the host.
func OwnerRepoFromURL(repoURL string) (string, string, error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")

	var path string
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		path = strings.Trim(u.Path, "/")
	} else if at := strings.IndexByte(trimmed, '@'); at >= 0 {
		if colon := strings.IndexByte(trimmed[at:], ':'); colon >= 0 {
			path = strings.Trim(trimmed[at+colon+1:], "/")
		}
	}
	parts := strings.Split(path, "/")
	if path == "" || len(parts) < 2 {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	owner, name := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	return owner, name, nil
}

// Clone checks the repository out into a fresh temp directory and
// returns its path with a cleanup func that removes it.
func (s *Service) Clone(ctx context.Context, repoURL string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.workDir, "repokb-clone-")
	if err != nil {
		return "", nil, fmt.Errorf("create clone dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("failed to remove clone dir", "dir", dir, "error", err)
		}
	}

	s.log.Info("cloning repository", "repo_url", repoURL, "dir", dir)
	if _, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: repoURL}); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return dir, cleanup, nil
}

// ExtractCode walks a checked-out tree and collects extractable source
// files, skipping vendored directories and oversized files.
func (s *Service) ExtractCode(root string) ([]models.CodeFile, error) {
	var files []models.CodeFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !parser.IsExtractableFile(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.maxFileSize {
			s.log.Debug("skipping oversized file", "path", rel, "size", info.Size())
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		files = append(files, models.CodeFile{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// HeadSHA resolves HEAD of a checked-out tree.
func (s *Service) HeadSHA(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ExtractCommits reads up to max commits from HEAD, newest first, with
// each commit's diff against its first parent.
func (s *Service) ExtractCommits(ctx context.Context, path string, max int) ([]models.CommitRecord, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	records := make([]models.CommitRecord, 0, max)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		diff, err := commitDiff(ctx, c)
		if err != nil {
			s.log.Warn("failed to diff commit", "sha", c.Hash.String(), "error", err)
			diff = ""
		}
		records = append(records, models.CommitRecord{
			SHA:     c.Hash.String(),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			Date:    c.Author.When,
			Message: c.Message,
			Diff:    diff,
		})
		if max > 0 && len(records) >= max {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return records, nil
}

// commitDiff renders the unified diff against the first parent,
// truncated to a bounded size. Root commits yield an empty diff.
func commitDiff(ctx context.Context, c *object.Commit) (string, error) {
	if c.NumParents() == 0 {
		return "", nil
	}
	parent, err := c.Parent(0)
	if err != nil {
		return "", fmt.Errorf("resolve parent: %w", err)
	}
	patch, err := parent.PatchContext(ctx, c)
	if err != nil {
		return "", fmt.Errorf("compute patch: %w", err)
	}
	text := patch.String()
	if len(text) > maxDiffChars {
		text = text[:maxDiffChars] + "\n... (diff truncated)"
	}
	return text, nil
}

// ensureClone returns an open handle on a cached clone of the
// repository, cloning it on first use.
func (s *Service) ensureClone(ctx context.Context, repoURL string) (*git.Repository, error) {
	lock := s.repoLock(repoURL)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.workDir, "repokb-browse", sanitizeDirName(repoURL))
	if _, err := os.Stat(dir); err == nil {
		repo, err := git.PlainOpen(dir)
		if err == nil {
			// Refresh so browsing sees recent commits. Failures fall
			// back to the stale clone.
			if wt, werr := repo.Worktree(); werr == nil {
				perr := wt.PullContext(ctx, &git.PullOptions{})
				if perr != nil && !errors.Is(perr, git.NoErrAlreadyUpToDate) {
					s.log.Debug("pull failed, using cached clone", "repo_url", repoURL, "error", perr)
				}
			}
			return repo, nil
		}
		// Unusable cache, re-clone.
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("reset browse clone: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create browse dir: %w", err)
	}
	s.log.Info("cloning repository for browsing", "repo_url", repoURL)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: repoURL})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return repo, nil
}

// Branches lists the repository's branches, default branch first.
func (s *Service) Branches(ctx context.Context, repoURL string) ([]models.BranchInfo, error) {
	repo, err := s.ensureClone(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	defaultName := ""
	if head, err := repo.Head(); err == nil {
		defaultName = head.Name().Short()
	}

	seen := map[string]plumbing.Hash{}
	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case name.IsBranch():
			seen[name.Short()] = ref.Hash()
		case name.IsRemote():
			short := strings.TrimPrefix(name.Short(), "origin/")
			if short == "HEAD" {
				return nil
			}
			if _, ok := seen[short]; !ok {
				seen[short] = ref.Hash()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}

	branches := make([]models.BranchInfo, 0, len(seen))
	for name, hash := range seen {
		branches = append(branches, models.BranchInfo{
			Name:      name,
			IsDefault: name == defaultName,
			HeadSHA:   hash.String(),
		})
	}
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].IsDefault != branches[j].IsDefault {
			return branches[i].IsDefault
		}
		return branches[i].Name < branches[j].Name
	})
	return branches, nil
}

// Commits lists up to limit commits on a branch, newest first.
func (s *Service) Commits(ctx context.Context, repoURL, branch string, limit int) ([]models.CommitSummary, error) {
	repo, err := s.ensureClone(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	hash, err := resolveBranch(repo, branch)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]models.CommitSummary, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		filesChanged := 0
		if stats, serr := c.StatsContext(ctx); serr == nil {
			filesChanged = len(stats)
		}
		items = append(items, models.CommitSummary{
			SHA:          c.Hash.String(),
			ShortSHA:     c.Hash.String()[:8],
			Message:      strings.TrimSpace(c.Message),
			Author:       c.Author.Name,
			AuthorEmail:  c.Author.Email,
			Date:         c.Author.When,
			FilesChanged: filesChanged,
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// CommitDetail loads one commit with per-file stats and truncated
// patches.
func (s *Service) CommitDetail(ctx context.Context, repoURL, sha string) (models.CommitDetail, error) {
	repo, err := s.ensureClone(ctx, repoURL)
	if err != nil {
		return models.CommitDetail{}, err
	}
	c, err := commitByHash(repo, sha)
	if err != nil {
		return models.CommitDetail{}, err
	}

	detail := models.CommitDetail{
		SHA:         c.Hash.String(),
		Message:     strings.TrimSpace(c.Message),
		Author:      c.Author.Name,
		AuthorEmail: c.Author.Email,
		Date:        c.Author.When,
	}
	for _, p := range c.ParentHashes {
		detail.Parents = append(detail.Parents, p.String())
	}

	stats, err := c.StatsContext(ctx)
	if err != nil {
		return models.CommitDetail{}, fmt.Errorf("commit stats: %w", err)
	}

	diff, err := commitDiff(ctx, c)
	if err != nil {
		return models.CommitDetail{}, err
	}
	sections := splitPatchSections(diff)
	changes := changeKinds(ctx, c)

	for _, st := range stats {
		patch := sections[st.Name]
		if len(patch) > maxPatchChars {
			patch = patch[:maxPatchChars] + "\n... (patch truncated)"
		}
		change := changes[st.Name]
		if change == "" {
			change = "modified"
		}
		detail.Files = append(detail.Files, models.CommitFile{
			Path:      st.Name,
			Change:    change,
			Additions: st.Addition,
			Deletions: st.Deletion,
			Patch:     patch,
		})
		detail.Additions += st.Addition
		detail.Deletions += st.Deletion
	}
	return detail, nil
}

// Diff returns the commit's full (bounded) diff against its first
// parent, for explanation and chat prompts.
func (s *Service) Diff(ctx context.Context, repoURL, sha string) (models.CommitDetail, string, error) {
	repo, err := s.ensureClone(ctx, repoURL)
	if err != nil {
		return models.CommitDetail{}, "", err
	}
	c, err := commitByHash(repo, sha)
	if err != nil {
		return models.CommitDetail{}, "", err
	}
	diff, err := commitDiff(ctx, c)
	if err != nil {
		return models.CommitDetail{}, "", err
	}
	detail := models.CommitDetail{
		SHA:         c.Hash.String(),
		Message:     strings.TrimSpace(c.Message),
		Author:      c.Author.Name,
		AuthorEmail: c.Author.Email,
		Date:        c.Author.When,
	}
	return detail, diff, nil
}

func commitByHash(repo *git.Repository, sha string) (*object.Commit, error) {
	hash, err := resolveHash(repo, sha)
	if err != nil {
		return nil, err
	}
	c, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", sha, err)
	}
	return c, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

func resolveBranch(repo *git.Repository, branch string) (plumbing.Hash, error) {
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}
	if ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true); err == nil {
		return ref.Hash(), nil
	}
	if ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true); err == nil {
		return ref.Hash(), nil
	}
	return plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", branch, plumbing.ErrReferenceNotFound)
}

// changeKinds classifies each file touched by the commit.
func changeKinds(ctx context.Context, c *object.Commit) map[string]string {
	kinds := map[string]string{}
	if c.NumParents() == 0 {
		return kinds
	}
	parent, err := c.Parent(0)
	if err != nil {
		return kinds
	}
	patch, err := parent.PatchContext(ctx, c)
	if err != nil {
		return kinds
	}
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		switch {
		case from == nil && to != nil:
			kinds[to.Path()] = "added"
		case from != nil && to == nil:
			kinds[from.Path()] = "deleted"
		case from != nil && to != nil && from.Path() != to.Path():
			kinds[to.Path()] = "renamed"
		case to != nil:
			kinds[to.Path()] = "modified"
		}
	}
	return kinds
}

// splitPatchSections slices a unified diff into per-file sections keyed
// by the post-image path.
func splitPatchSections(diff string) map[string]string {
	sections := map[string]string{}
	if diff == "" {
		return sections
	}
	var curPath string
	var cur strings.Builder
	flush := func() {
		if curPath != "" {
			sections[curPath] = cur.String()
		}
		cur.Reset()
	}
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			fields := strings.Fields(line)
			curPath = ""
			if len(fields) >= 4 {
				curPath = strings.TrimPrefix(fields[3], "b/")
			}
		}
		if curPath != "" {
			cur.WriteString(line)
			cur.WriteString("\n")
		}
	}
	flush()
	return sections
}

func (s *Service) repoLock(repoURL string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[repoURL]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[repoURL] = lock
	}
	return lock
}

func sanitizeDirName(repoURL string) string {
	var b strings.Builder
	for _, r := range repoURL {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
