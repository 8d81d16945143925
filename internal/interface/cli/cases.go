package cli

import (
	"fmt"
	"strings"

	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/interface/tui"
	"github.com/spf13/cobra"
)

var (
	casesLimit     int
	casesSpecialty string
	casesSince     string
	casesBefore    string
	casesAllUsers  bool
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List recorded cases",
	Long: `List finalized cases, most recent first.

Shows the case id, specialty, grade, when it was closed and the start of the
write-up. --since and --before accept dates or natural language.

Examples:
  casesim cases -u ana
  casesim cases -u ana --specialty pediatria --since "last week"
  casesim cases --all-users --since ontem --limit 100`,
	RunE: runCases,
}

func init() {
	rootCmd.AddCommand(casesCmd)
	casesCmd.Flags().IntVar(&casesLimit, "limit", 20, "Maximum number of cases to display")
	casesCmd.Flags().StringVar(&casesSpecialty, "specialty", "", "Filter by specialty")
	casesCmd.Flags().StringVar(&casesSince, "since", "", "Only cases after this date")
	casesCmd.Flags().StringVar(&casesBefore, "before", "", "Only cases before this date")
	casesCmd.Flags().BoolVar(&casesAllUsers, "all-users", false, "List every student's cases")
}

func runCases(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	filter := models.CaseFilter{Limit: casesLimit}
	if !casesAllUsers {
		if filter.User, err = requireUser(app); err != nil {
			return err
		}
	}
	if casesSpecialty != "" {
		if filter.Specialty, err = models.ParseSpecialty(casesSpecialty); err != nil {
			return err
		}
	}
	if casesSince != "" {
		t, ok := tui.ParseDate(casesSince)
		if !ok {
			return fmt.Errorf("could not understand --since %q", casesSince)
		}
		filter.After = t
	}
	if casesBefore != "" {
		t, ok := tui.ParseDate(casesBefore)
		if !ok {
			return fmt.Errorf("could not understand --before %q", casesBefore)
		}
		filter.Before = t
	}

	cases, err := app.Store.ListCases(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}

	if len(cases) == 0 {
		fmt.Println("No cases found. Run 'casesim chat' to start one.")
		return nil
	}

	fmt.Printf("Showing %d case(s)", len(cases))
	if filter.User != "" {
		fmt.Printf(" for %s", filter.User)
	}
	fmt.Println()
	fmt.Println()

	for i, c := range cases {
		fmt.Printf("[%d] %s\n", i+1, shortID(c.ID))
		fmt.Printf("    %s", c.Specialty.Label())
		if casesAllUsers {
			fmt.Printf(" - %s", c.User)
		}
		fmt.Printf(" - %s\n", formatTimestamp(c.CreatedAt))
		if c.HasScore() {
			fmt.Printf("    Nota: %s\n", formatScore(*c.Score))
		} else {
			fmt.Printf("    Nota: -\n")
		}
		fmt.Printf("    %s\n", truncateSummary(c.Summary, 80))
		fmt.Println()
	}

	return nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
