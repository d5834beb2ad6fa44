package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

const pollInterval = time.Second

var (
	ingestCode       bool
	ingestCommits    bool
	ingestIssues     bool
	ingestPRs        bool
	ingestMaxCommits int
	ingestWait       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <repo-url>",
	Short: "Ingest a repository into the knowledge base",
	Long: `Submit a repository for ingestion. The server clones it, extracts the
selected content, chunks and embeds it, and indexes the result.

Examples:
  repokb ingest https://github.com/acme/widgets
  repokb ingest https://github.com/acme/widgets --issues --prs
  repokb ingest https://github.com/acme/widgets --max-commits 500 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestCode, "code", true, "extract source code")
	ingestCmd.Flags().BoolVar(&ingestCommits, "commits", true, "extract commit history")
	ingestCmd.Flags().BoolVar(&ingestIssues, "issues", false, "extract issues")
	ingestCmd.Flags().BoolVar(&ingestPRs, "prs", false, "extract pull requests")
	ingestCmd.Flags().IntVar(&ingestMaxCommits, "max-commits", 100, "maximum commits to extract")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "wait for the job to finish")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	snap, err := apiClient.Ingest(ctx, models.IngestOptions{
		RepoURL:        args[0],
		IncludeCode:    ingestCode,
		IncludeCommits: ingestCommits,
		IncludeIssues:  ingestIssues,
		IncludePRs:     ingestPRs,
		MaxCommits:     ingestMaxCommits,
	})
	if err != nil {
		return fmt.Errorf("submit ingestion: %w", err)
	}

	fmt.Printf("Job %s accepted for %s\n", snap.ID, snap.RepoURL)
	if !ingestWait {
		fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("Track it with: repokb status %s", snap.ID)))
		return nil
	}

	return waitForJob(ctx, snap.ID)
}

// waitForJob polls the job until it reaches a terminal stage, printing
// each stage change and document progress along the way.
func waitForJob(ctx context.Context, jobID string) error {
	var lastStage models.Stage
	var lastProcessed int

	for {
		snap, err := apiClient.JobStatus(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job: %w", err)
		}

		if snap.Stage != lastStage {
			lastStage = snap.Stage
			fmt.Println(defaultTheme.statusStyle().Render("• " + string(snap.Stage)))
		}
		if snap.Stage == models.StageProcessing && snap.DocumentsProcessed != lastProcessed && snap.DocumentsTotal > 0 {
			lastProcessed = snap.DocumentsProcessed
			fmt.Printf("  %d/%d documents\n", snap.DocumentsProcessed, snap.DocumentsTotal)
		}

		if snap.Stage.Terminal() {
			if snap.Stage == models.StageFailed {
				fmt.Println(defaultTheme.errorStyle().Render("Ingestion failed: " + snap.Error))
				return fmt.Errorf("job %s failed", jobID)
			}
			fmt.Println(defaultTheme.successStyle().Render(fmt.Sprintf("Done: %d documents indexed", snap.DocumentsTotal)))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
