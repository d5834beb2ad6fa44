// Package client provides an HTTP client for the repokb server API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

// Client talks to the repokb server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL.
// If baseURL is empty, uses REPOKB_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via REPOKB_CLIENT_TIMEOUT env var (default 10m for streaming answers).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("REPOKB_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 10 * time.Minute
	if t := os.Getenv("REPOKB_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is the server's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if jerr := json.Unmarshal(data, &apiErr); jerr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Ingest submits an ingestion job and returns the accepted snapshot.
func (c *Client) Ingest(ctx context.Context, opts models.IngestOptions) (models.JobSnapshot, error) {
	var snap models.JobSnapshot
	err := c.do(ctx, http.MethodPost, "/api/ingest", opts, &snap)
	return snap, err
}

// JobStatus fetches the current snapshot for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (models.JobSnapshot, error) {
	var snap models.JobSnapshot
	err := c.do(ctx, http.MethodGet, "/api/ingest/"+url.PathEscape(jobID)+"/status", nil, &snap)
	return snap, err
}

// QueryRequest is the body for /api/query and /api/query/stream.
type QueryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	FilterType string `json:"filter_type,omitempty"`
	RepoURL    string `json:"repo_url,omitempty"`
}

// QueryResponse is a synthesized answer with its sources.
type QueryResponse struct {
	Answer       string                   `json:"answer"`
	Sources      []models.RetrievedSource `json:"sources"`
	TotalSources int                      `json:"total_sources"`
}

// Query asks a question and waits for the full answer.
func (c *Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var res QueryResponse
	err := c.do(ctx, http.MethodPost, "/api/query", req, &res)
	return res, err
}

// StreamEvent is one server-sent frame from /api/query/stream.
type StreamEvent struct {
	Type         string                   `json:"type"`
	Text         string                   `json:"text,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Sources      []models.RetrievedSource `json:"sources,omitempty"`
	TotalSources int                      `json:"total_sources,omitempty"`
}

// QueryStream asks a question and delivers sources, then text deltas,
// as they arrive. It returns after the terminal done or error event.
func (c *Client) QueryStream(
	ctx context.Context,
	req QueryRequest,
	onSources func(sources []models.RetrievedSource) error,
	onText func(text string) error,
) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query/stream", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("bad stream frame: %w", err)
		}

		switch ev.Type {
		case "sources":
			if onSources != nil {
				if err := onSources(ev.Sources); err != nil {
					return err
				}
			}
		case "text":
			if onText != nil {
				if err := onText(ev.Text); err != nil {
					return err
				}
			}
		case "done":
			return nil
		case "error":
			return fmt.Errorf("stream error: %s", ev.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal event")
}

// RepositoriesResponse lists ingested repositories.
type RepositoriesResponse struct {
	Repositories []models.RepositoryInfo `json:"repositories"`
	Total        int                     `json:"total"`
}

// Repositories lists every ingested repository's manifest.
func (c *Client) Repositories(ctx context.Context) (RepositoriesResponse, error) {
	var res RepositoriesResponse
	err := c.do(ctx, http.MethodGet, "/api/repositories", nil, &res)
	return res, err
}

// DeleteRepository removes a repository's documents from storage and index.
func (c *Client) DeleteRepository(ctx context.Context, owner, repo string) (int, error) {
	var res struct {
		DeletedDocuments int `json:"deleted_documents"`
	}
	err := c.do(ctx, http.MethodDelete, repoPath(owner, repo), nil, &res)
	return res.DeletedDocuments, err
}

// Branches lists a repository's branches, default branch first.
func (c *Client) Branches(ctx context.Context, owner, repo string) ([]models.BranchInfo, error) {
	var res struct {
		Branches []models.BranchInfo `json:"branches"`
	}
	err := c.do(ctx, http.MethodGet, repoPath(owner, repo)+"/branches", nil, &res)
	return res.Branches, err
}

// Commits lists recent commits on a branch.
func (c *Client) Commits(ctx context.Context, owner, repo, branch string, limit int) ([]models.CommitSummary, error) {
	path := repoPath(owner, repo) + "/commits"
	query := url.Values{}
	if branch != "" {
		query.Set("branch", branch)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var res struct {
		Commits []models.CommitSummary `json:"commits"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res.Commits, err
}

// CommitDetail fetches one commit with per-file patches.
func (c *Client) CommitDetail(ctx context.Context, owner, repo, sha string) (models.CommitDetail, error) {
	var detail models.CommitDetail
	err := c.do(ctx, http.MethodGet, repoPath(owner, repo)+"/commits/"+url.PathEscape(sha), nil, &detail)
	return detail, err
}

// ExplainCommit fetches a structured explanation of one commit.
func (c *Client) ExplainCommit(ctx context.Context, owner, repo, sha string) (models.CommitExplanation, error) {
	var explanation models.CommitExplanation
	err := c.do(ctx, http.MethodGet, repoPath(owner, repo)+"/commits/"+url.PathEscape(sha)+"/explain", nil, &explanation)
	return explanation, err
}

// CommitChat sends one chat turn about a commit and returns the full
// history including the new user and assistant turns.
func (c *Client) CommitChat(ctx context.Context, owner, repo, sha, message string, history []models.ChatTurn) ([]models.ChatTurn, error) {
	body := map[string]any{
		"message": message,
		"history": history,
	}
	var res struct {
		History []models.ChatTurn `json:"history"`
	}
	err := c.do(ctx, http.MethodPost, repoPath(owner, repo)+"/commits/"+url.PathEscape(sha)+"/chat", body, &res)
	return res.History, err
}

func repoPath(owner, repo string) string {
	return "/api/repositories/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}
