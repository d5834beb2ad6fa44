package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	commitsBranch string
	commitsLimit  int
)

var branchesCmd = &cobra.Command{
	Use:   "branches <owner/repo>",
	Short: "List a repository's branches",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranches,
}

var commitsCmd = &cobra.Command{
	Use:   "commits <owner/repo>",
	Short: "List recent commits on a branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommits,
}

var explainCmd = &cobra.Command{
	Use:   "explain <owner/repo> <sha>",
	Short: "Explain what a commit changed and why it matters",
	Args:  cobra.ExactArgs(2),
	RunE:  runExplain,
}

func init() {
	commitsCmd.Flags().StringVarP(&commitsBranch, "branch", "b", "", "branch name (default branch if empty)")
	commitsCmd.Flags().IntVarP(&commitsLimit, "limit", "n", 20, "max commits to list")
}

func runBranches(cmd *cobra.Command, args []string) error {
	owner, repo, err := splitOwnerRepo(args[0])
	if err != nil {
		return err
	}

	branches, err := apiClient.Branches(context.Background(), owner, repo)
	if err != nil {
		return fmt.Errorf("list branches: %w", err)
	}

	for _, b := range branches {
		marker := " "
		if b.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, b.Name)
	}
	return nil
}

func runCommits(cmd *cobra.Command, args []string) error {
	owner, repo, err := splitOwnerRepo(args[0])
	if err != nil {
		return err
	}

	commits, err := apiClient.Commits(context.Background(), owner, repo, commitsBranch, commitsLimit)
	if err != nil {
		return fmt.Errorf("list commits: %w", err)
	}

	for _, c := range commits {
		subject := c.Message
		if i := strings.IndexByte(subject, '\n'); i >= 0 {
			subject = subject[:i]
		}
		fmt.Printf("%s  %s  %s  %s\n", c.ShortSHA, c.Date.Format("2006-01-02"), c.Author, subject)
	}
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	owner, repo, err := splitOwnerRepo(args[0])
	if err != nil {
		return err
	}

	explanation, err := apiClient.ExplainCommit(context.Background(), owner, repo, args[1])
	if err != nil {
		return fmt.Errorf("explain commit: %w", err)
	}

	section := func(title, body string) {
		if body == "" {
			return
		}
		fmt.Println(defaultTheme.statusStyle().Render(title))
		fmt.Println(body)
		fmt.Println()
	}
	section("Summary", explanation.Summary)
	section("What changed", explanation.WhatChanged)
	section("Why it matters", explanation.WhyImportant)
	section("Technical details", explanation.TechnicalDetails)
	section("Business impact", explanation.BusinessImpact)
	return nil
}
