package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/repokb-go/internal/client"
	"github.com/raphaelgruber/repokb-go/internal/models"
)

var (
	queryStream     bool
	queryRepoURL    string
	queryFilterType string
	queryLimit      int
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question over the indexed repositories",
	Long: `Ask a question and get an LLM-synthesized answer grounded in the
indexed repository content, with the sources it drew from.

Examples:
  repokb query "How does the ingestion pipeline handle retries?"
  repokb query "Why was the cache layer added?" --type commit
  repokb query "What does the auth middleware do?" --repo https://github.com/acme/widgets --stream`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer as it is generated")
	queryCmd.Flags().StringVar(&queryRepoURL, "repo", "", "limit to one repository URL")
	queryCmd.Flags().StringVarP(&queryFilterType, "type", "t", "", "limit to one document type (code, commit, issue, pull_request)")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "max sources to retrieve")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	req := client.QueryRequest{
		Query:      args[0],
		MaxResults: queryLimit,
		FilterType: queryFilterType,
		RepoURL:    queryRepoURL,
	}

	if queryStream {
		return streamQuery(ctx, req)
	}

	res, err := apiClient.Query(ctx, req)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	fmt.Println(res.Answer)
	printSources(res.Sources)
	return nil
}

func streamQuery(ctx context.Context, req client.QueryRequest) error {
	var sources []models.RetrievedSource
	err := apiClient.QueryStream(ctx, req,
		func(s []models.RetrievedSource) error {
			sources = s
			return nil
		},
		func(text string) error {
			fmt.Print(text)
			return nil
		})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Println()
	printSources(sources)
	return nil
}

func printSources(sources []models.RetrievedSource) {
	if len(sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("Sources (%d):", len(sources))))
	for i, src := range sources {
		fmt.Printf("  [%d] %s (%s, score %.3f)\n", i+1, src.Location, src.Type, src.Score)
	}
}
