package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neilberkman/casesim/internal/core/search"
	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchAllUsers bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recorded case write-ups",
	Long: `Search finalized case summaries and reports.

A case id (or its first 8 characters) jumps straight to that case. Otherwise
FTS5 full-text search runs with accents folded, and when it finds little the
search falls back to similarity against case summaries. Needs the sqlite store.

Examples:
  casesim search -u ana bronquiolite
  casesim search -u ana "dor toracica"
  casesim search --all-users 3f2a9c1e`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of cases to show")
	searchCmd.Flags().BoolVar(&searchAllUsers, "all-users", false, "Search every student's cases")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()
	if app.DB == nil {
		return errors.New("search needs the sqlite store")
	}

	user := ""
	if !searchAllUsers {
		if user, err = requireUser(app); err != nil {
			return err
		}
	}

	results, err := search.NewSmartSearcher(app.DB).Search(ctx, query, user, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Printf("No results found for: %s\n", query)
		return nil
	}

	fmt.Printf("Found %d case(s) for: %s\n", len(results), query)
	fmt.Println()

	for i, r := range results {
		c := r.Case
		fmt.Printf("=== Case %d (%s) ===\n", i+1, r.Method)
		fmt.Printf("ID:        %s\n", c.ID)
		fmt.Printf("Student:   %s\n", c.User)
		fmt.Printf("Specialty: %s\n", c.Specialty.Label())
		fmt.Printf("Closed:    %s\n", formatTimestamp(c.CreatedAt))
		if c.HasScore() {
			fmt.Printf("Nota:      %s\n", formatScore(*c.Score))
		}
		fmt.Printf("  %s\n", truncateSummary(c.Summary, 200))
		fmt.Println()
	}

	return nil
}
