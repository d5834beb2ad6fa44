// Package cli provides the command-line interface for repokb.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/repokb-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// API client, created before every command runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "repokb",
	Short: "Repository knowledge base",
	Long: `Repokb turns source repositories into a searchable knowledge base.

Ingest a repository's code, commit history, issues, and pull requests,
then ask questions answered by an LLM grounded in the indexed content,
or browse and explain individual commits.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (default $REPOKB_SERVER_URL or http://localhost:8080)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(commitsCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(chatCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
