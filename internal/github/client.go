// Package github is a minimal wrapper around GitHub's REST API v3.
// It covers just the endpoints ingestion requires: issues and pull
// requests with their comment threads.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

const perPage = 100

// Client talks to the GitHub API. A token is optional but unauth
// requests run into very low rate limits.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient returns a ready-to-use GitHub API client. baseURL defaults
// to the public API when empty.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		token:   token,
	}
}

type apiUser struct {
	Login string `json:"login"`
}

type apiLabel struct {
	Name string `json:"name"`
}

type apiIssue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	User        apiUser    `json:"user"`
	Labels      []apiLabel `json:"labels"`
	CreatedAt   time.Time  `json:"created_at"`
	Comments    int        `json:"comments"`
	PullRequest *struct{}  `json:"pull_request,omitempty"`
}

type apiPull struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	User      apiUser    `json:"user"`
	Labels    []apiLabel `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

type apiComment struct {
	User apiUser `json:"user"`
	Body string  `json:"body"`
}

// ListIssues fetches up to max issues (all states, newest first),
// excluding pull requests, each with its bounded comment thread.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, max int) ([]models.IssueRecord, error) {
	var records []models.IssueRecord
	for page := 1; len(records) < max; page++ {
		var batch []apiIssue
		path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
		query := url.Values{
			"state":     {"all"},
			"per_page":  {fmt.Sprint(perPage)},
			"page":      {fmt.Sprint(page)},
			"sort":      {"created"},
			"direction": {"desc"},
		}
		if err := c.get(ctx, path, query, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, is := range batch {
			if is.PullRequest != nil {
				continue
			}
			rec := models.IssueRecord{
				Number:    is.Number,
				Title:     is.Title,
				Body:      is.Body,
				State:     is.State,
				Author:    is.User.Login,
				CreatedAt: is.CreatedAt,
				Labels:    labelNames(is.Labels),
			}
			if is.Comments > 0 {
				rec.Comments = c.commentsOrEmpty(ctx, owner, repo, is.Number)
			}
			records = append(records, rec)
			if len(records) >= max {
				break
			}
		}
		if len(batch) < perPage {
			break
		}
	}
	return records, nil
}

// ListPullRequests fetches up to max pull requests (all states, newest
// first), each with its bounded comment thread.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo string, max int) ([]models.PullRequestRecord, error) {
	var records []models.PullRequestRecord
	for page := 1; len(records) < max; page++ {
		var batch []apiPull
		path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo))
		query := url.Values{
			"state":     {"all"},
			"per_page":  {fmt.Sprint(perPage)},
			"page":      {fmt.Sprint(page)},
			"sort":      {"created"},
			"direction": {"desc"},
		}
		if err := c.get(ctx, path, query, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, pr := range batch {
			records = append(records, models.PullRequestRecord{
				Number:    pr.Number,
				Title:     pr.Title,
				Body:      pr.Body,
				State:     pr.State,
				Merged:    pr.MergedAt != nil,
				Author:    pr.User.Login,
				CreatedAt: pr.CreatedAt,
				Labels:    labelNames(pr.Labels),
				Comments:  c.commentsOrEmpty(ctx, owner, repo, pr.Number),
			})
			if len(records) >= max {
				break
			}
		}
		if len(batch) < perPage {
			break
		}
	}
	return records, nil
}

// commentsOrEmpty wraps listComments so a single broken thread cannot
// sink a whole extraction. The listing endpoints stay authoritative;
// comment threads are best effort.
func (c *Client) commentsOrEmpty(ctx context.Context, owner, repo string, number int) []models.IssueComment {
	comments, err := c.listComments(ctx, owner, repo, number)
	if err != nil {
		slog.Warn("skipping comment thread", "owner", owner, "repo", repo, "number", number, "error", err)
		return nil
	}
	return comments
}

// listComments fetches the first page of a thread; ingestion only keeps
// a bounded number anyway.
func (c *Client) listComments(ctx context.Context, owner, repo string, number int) ([]models.IssueComment, error) {
	var batch []apiComment
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := c.get(ctx, path, url.Values{"per_page": {"10"}}, &batch); err != nil {
		return nil, err
	}
	comments := make([]models.IssueComment, 0, len(batch))
	for _, cm := range batch {
		comments = append(comments, models.IssueComment{Author: cm.User.Login, Body: cm.Body})
	}
	return comments, nil
}

func labelNames(labels []apiLabel) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

// get executes a GET request and decodes the JSON response into v.
func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "repokb")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("github: unexpected status %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
