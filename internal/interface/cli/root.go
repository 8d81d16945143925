package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath       string
	storeKind    string
	workbookPath string
	userName     string
	versionInfo  string
	version      = "dev"
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(v, commit, date string) {
	version = v
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "casesim",
	Short: "Clinical case simulator for medical students",
	Long: `casesim - practice clinical encounters against a simulated patient

Start a case in a specialty, interview the patient turn by turn, then close
the encounter to get a structured write-up with a grade. Finished cases feed
back into new ones so the simulator avoids repeating itself.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to TUI if no subcommand specified
		return tuiCmd.RunE(cmd, args)
	},
}

func init() {
	// Global flags; empty values fall back to config.toml and the environment
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default ~/.config/casesim/cases.db)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Case store: sqlite or xlsx")
	rootCmd.PersistentFlags().StringVar(&workbookPath, "workbook", "", "Workbook path for the xlsx store")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", "", "Student user name")
}
