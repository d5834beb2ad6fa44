package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

// RepoBrowser reads branches and commits straight from a repository,
// independent of whether it has been ingested.
type RepoBrowser interface {
	Branches(ctx context.Context, repoURL string) ([]models.BranchInfo, error)
	Commits(ctx context.Context, repoURL, branch string, limit int) ([]models.CommitSummary, error)
	CommitDetail(ctx context.Context, repoURL, sha string) (models.CommitDetail, error)
	Diff(ctx context.Context, repoURL, sha string) (models.CommitDetail, string, error)
}

// CommitExplainer turns commit diffs into explanations and chat answers.
type CommitExplainer interface {
	ExplainCommit(ctx context.Context, detail models.CommitDetail, diff string) (models.CommitExplanation, error)
	CommitChat(ctx context.Context, detail models.CommitDetail, diff string, history []models.ChatTurn, message string) (string, error)
}

// CommitService exposes repository browsing plus LLM-backed commit
// explanation and chat.
type CommitService struct {
	git   RepoBrowser
	model CommitExplainer
	log   *slog.Logger
}

func NewCommitService(git RepoBrowser, model CommitExplainer, log *slog.Logger) *CommitService {
	return &CommitService{git: git, model: model, log: log}
}

// Branches lists branches with the default branch first.
func (s *CommitService) Branches(ctx context.Context, repoURL string) ([]models.BranchInfo, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return nil, err
	}
	return s.git.Branches(ctx, repoURL)
}

// Commits lists recent commits on a branch, newest first.
func (s *CommitService) Commits(ctx context.Context, repoURL, branch string, limit int) ([]models.CommitSummary, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 20
	}
	return s.git.Commits(ctx, repoURL, branch, limit)
}

// Detail returns one commit with per-file patches.
func (s *CommitService) Detail(ctx context.Context, repoURL, sha string) (models.CommitDetail, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return models.CommitDetail{}, err
	}
	if sha == "" {
		return models.CommitDetail{}, fmt.Errorf("%w: commit sha is required", ErrValidation)
	}
	return s.git.CommitDetail(ctx, repoURL, sha)
}

// Explain produces a structured explanation of one commit from its diff.
func (s *CommitService) Explain(ctx context.Context, repoURL, sha string) (models.CommitExplanation, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return models.CommitExplanation{}, err
	}
	if sha == "" {
		return models.CommitExplanation{}, fmt.Errorf("%w: commit sha is required", ErrValidation)
	}

	detail, diff, err := s.git.Diff(ctx, repoURL, sha)
	if err != nil {
		return models.CommitExplanation{}, fmt.Errorf("load commit: %w", err)
	}

	explanation, err := s.model.ExplainCommit(ctx, detail, diff)
	if err != nil {
		return models.CommitExplanation{}, fmt.Errorf("explain commit: %w", err)
	}
	s.log.Debug("commit explained", "repo", repoURL, "sha", detail.SHA)
	return explanation, nil
}

// Chat answers one question about a commit. The service holds no
// conversation state; callers resend the full history each turn.
func (s *CommitService) Chat(
	ctx context.Context,
	repoURL, sha string,
	history []models.ChatTurn,
	message string,
) (string, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return "", err
	}
	if sha == "" {
		return "", fmt.Errorf("%w: commit sha is required", ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", ErrValidation)
	}
	for _, turn := range history {
		if turn.Role != "user" && turn.Role != "assistant" {
			return "", fmt.Errorf("%w: history role must be user or assistant, got %q", ErrValidation, turn.Role)
		}
	}

	detail, diff, err := s.git.Diff(ctx, repoURL, sha)
	if err != nil {
		return "", fmt.Errorf("load commit: %w", err)
	}
	return s.model.CommitChat(ctx, detail, diff, history, message)
}

func validateRepoURL(repoURL string) error {
	url := strings.TrimSpace(repoURL)
	if url == "" {
		return fmt.Errorf("%w: repo_url is required", ErrValidation)
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "git@") {
		return fmt.Errorf("%w: repo_url must be an http(s) or git URL", ErrValidation)
	}
	return nil
}
