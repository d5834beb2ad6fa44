package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of an ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, err := apiClient.JobStatus(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", snap.ID)
	fmt.Printf("  Repository: %s\n", snap.RepoURL)
	fmt.Printf("  Status: %s\n", snap.Status)
	fmt.Printf("  Stage: %s\n", snap.Stage)
	if snap.DocumentsTotal > 0 {
		fmt.Printf("  Progress: %d/%d documents\n", snap.DocumentsProcessed, snap.DocumentsTotal)
	}
	fmt.Printf("  Started: %s\n", snap.CreatedAt.Format(time.RFC3339))
	if snap.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", snap.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", snap.CompletedAt.Sub(snap.CreatedAt).Round(time.Second))
	}
	if snap.Error != "" {
		fmt.Printf("  Error: %s\n", snap.Error)
	}
	return nil
}
