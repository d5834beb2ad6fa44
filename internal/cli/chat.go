package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat <owner/repo> <sha>",
	Short: "Interactive chat about one commit",
	Long: `Start an interactive conversation about a commit. The full history is
resent each turn; the server keeps no conversation state.

Type "exit" or press Ctrl-D to leave.`,
	Args: cobra.ExactArgs(2),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	owner, repo, err := splitOwnerRepo(args[0])
	if err != nil {
		return err
	}
	sha := args[1]
	ctx := context.Background()

	fmt.Printf("Chatting about %s/%s@%s\n", owner, repo, sha)
	fmt.Println(defaultTheme.hintStyle().Render(`Type "exit" to leave.`))

	var history []models.ChatTurn
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			return nil
		}

		updated, err := apiClient.CommitChat(ctx, owner, repo, sha, message, history)
		if err != nil {
			fmt.Println(defaultTheme.errorStyle().Render(err.Error()))
			continue
		}
		history = updated
		if len(history) > 0 {
			fmt.Println(history[len(history)-1].Content)
		}
	}
}
