package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over inbox messages, reply-needed requests, and design stubs",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().String("category", "", "restrict to one category: message, request_topic, response, design")
	searchCmd.Flags().Int("limit", 10, "maximum results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if a.Search == nil {
		return fmt.Errorf("no search index configured (set search_db_path)")
	}

	query := args[0]
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	results, err := a.Search.Query(query, category, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("[%s] %s\n  %s\n", r.Category, r.Title, r.Snippet)
	}

	if info, err := os.Stat(a.Cfg.SearchDBPath); err == nil {
		fmt.Printf("\n(index: %s, %s)\n", a.Cfg.SearchDBPath, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
