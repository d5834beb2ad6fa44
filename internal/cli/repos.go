package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List ingested repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

var reposDeleteCmd = &cobra.Command{
	Use:   "delete <owner/repo>",
	Short: "Remove a repository from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runReposDelete,
}

func init() {
	reposCmd.AddCommand(reposDeleteCmd)
}

func runRepos(cmd *cobra.Command, args []string) error {
	res, err := apiClient.Repositories(context.Background())
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}

	if res.Total == 0 {
		fmt.Println("No repositories ingested")
		return nil
	}

	fmt.Printf("%-30s %-10s %-12s %s\n", "REPOSITORY", "DOCUMENTS", "LAST COMMIT", "INGESTED")
	fmt.Println(strings.Repeat("-", 72))
	for _, repo := range res.Repositories {
		sha := repo.LastCommitSHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Printf("%-30s %-10d %-12s %s\n", repo.RepoName, repo.DocumentCount, sha, repo.IngestedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runReposDelete(cmd *cobra.Command, args []string) error {
	owner, repo, err := splitOwnerRepo(args[0])
	if err != nil {
		return err
	}

	deleted, err := apiClient.DeleteRepository(context.Background(), owner, repo)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	fmt.Printf("Removed %s/%s (%d documents)\n", owner, repo, deleted)
	return nil
}

func splitOwnerRepo(s string) (string, string, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/repo, got %q", s)
	}
	return parts[0], parts[1], nil
}
