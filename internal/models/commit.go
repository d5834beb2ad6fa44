package models

import "time"

// BranchInfo describes one branch of an ingested repository.
type BranchInfo struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	HeadSHA   string `json:"head_sha"`
}

// CommitSummary is the list-view shape of a commit.
type CommitSummary struct {
	SHA          string    `json:"sha"`
	ShortSHA     string    `json:"short_sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	AuthorEmail  string    `json:"author_email"`
	Date         time.Time `json:"date"`
	FilesChanged int       `json:"files_changed"`
}

// CommitFile is one file touched by a commit, with its (possibly
// truncated) unified patch.
type CommitFile struct {
	Path      string `json:"path"`
	Change    string `json:"change"` // "added", "modified", "deleted", "renamed"
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// CommitDetail is the full view of a single commit.
type CommitDetail struct {
	SHA         string       `json:"sha"`
	Message     string       `json:"message"`
	Author      string       `json:"author"`
	AuthorEmail string       `json:"author_email"`
	Date        time.Time    `json:"date"`
	Parents     []string     `json:"parents"`
	Additions   int          `json:"additions"`
	Deletions   int          `json:"deletions"`
	Files       []CommitFile `json:"files"`
}

// CommitExplanation is the structured output of explaining a commit.
type CommitExplanation struct {
	Summary          string `json:"summary"`
	WhatChanged      string `json:"what_changed"`
	WhyImportant     string `json:"why_important"`
	TechnicalDetails string `json:"technical_details"`
	BusinessImpact   string `json:"business_impact,omitempty"`
}

// ChatTurn is one message in a caller-owned commit conversation. The
// server keeps no session state; the full history travels with every
// request.
type ChatTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
