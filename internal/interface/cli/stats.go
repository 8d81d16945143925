package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/spf13/cobra"
)

var statsAll bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show grade statistics",
	Long: `Display a student's finalized case count and grade statistics.

With --all, also show store-wide statistics (sqlite store only): totals,
date range, the most active student and cases per specialty.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsAll, "all", false, "Include store-wide statistics")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	if !statsAll || app.Config.DefaultUser != "" {
		user, err := requireUser(app)
		if err != nil {
			return err
		}
		st, err := orchestrator.ComputeStats(ctx, app.Store, user)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render("Estatísticas de " + user))
		fmt.Printf("Casos finalizados: %d\n", st.Cases)
		fmt.Printf("Casos com nota:    %d\n", st.Graded)
		if st.Graded > 0 {
			fmt.Printf("Média global:      %s\n", formatScore(st.Average))
			fmt.Printf("Mediana:           %s\n", formatScore(st.Median))
			fmt.Printf("Melhor nota:       %s\n", formatScore(st.Best))
		}
		fmt.Println()
	}

	if !statsAll {
		return nil
	}
	if app.DB == nil {
		return fmt.Errorf("store-wide statistics need the sqlite store")
	}

	s, err := app.DB.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Database Statistics")
	fmt.Println("===================")
	fmt.Println()
	fmt.Printf("Total Cases:       %d\n", s.TotalCases)
	fmt.Printf("Graded Cases:      %d\n", s.ScoredCases)
	fmt.Printf("Students:          %d\n", s.TotalUsers)
	fmt.Println()

	if s.TotalCases > 0 {
		fmt.Printf("Oldest Case:       %s\n", s.OldestCase.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Printf("Newest Case:       %s\n", s.NewestCase.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Println()

		if s.MostActiveUser != "" {
			fmt.Printf("Most Active Student:\n")
			fmt.Printf("  Name:  %s\n", s.MostActiveUser)
			fmt.Printf("  Cases: %d\n", s.MostActiveUserCount)
			fmt.Println()
		}

		specialties := make([]string, 0, len(s.BySpecialty))
		for sp := range s.BySpecialty {
			specialties = append(specialties, sp)
		}
		sort.Strings(specialties)
		fmt.Println("By Specialty:")
		for _, sp := range specialties {
			fmt.Printf("  %-18s %d\n", sp, s.BySpecialty[sp])
		}
		fmt.Println()
	}

	path := app.Config.DBPath
	if path == "" {
		path, _ = db.DefaultPath()
	}
	if fileInfo, err := os.Stat(path); err == nil {
		fmt.Printf("Database Location: %s\n", path)
		fmt.Printf("Database Size:     %s\n", humanize.Bytes(uint64(fileInfo.Size())))
	}

	return nil
}
