package models

import "time"

// CodeFile is a source file pulled from a cloned repository.
type CodeFile struct {
	Path    string
	Content string
}

// CommitRecord is a commit extracted from repository history, including
// the diff against its first parent.
type CommitRecord struct {
	SHA     string
	Author  string
	Email   string
	Date    time.Time
	Message string
	Diff    string
}

// IssueComment is a single comment on an issue or pull request thread.
type IssueComment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// IssueRecord is an issue fetched from the hosting platform's API.
type IssueRecord struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Author    string
	CreatedAt time.Time
	Comments  []IssueComment
}

// PullRequestRecord is a pull request fetched from the hosting
// platform's API.
type PullRequestRecord struct {
	Number    int
	Title     string
	Body      string
	State     string
	Merged    bool
	Labels    []string
	Author    string
	CreatedAt time.Time
	Comments  []IssueComment
}
