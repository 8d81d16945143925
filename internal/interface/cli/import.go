package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/neilberkman/casesim/internal/core/importer"
	"github.com/neilberkman/casesim/internal/core/workbook"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var importCmd = &cobra.Command{
	Use:   "import <workbook.xlsx>",
	Short: "Import cases and logins from a workbook into the database",
	Long: `Copy every case and student login from a spreadsheet store into the
sqlite store. Passwords are hashed on the way in. Running the import again
only adds rows that are not in the database yet.

Examples:
  casesim import casos.xlsx
  casesim import casos.xlsx --db ./cases.db`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("workbook not found: %w", err)
	}
	src, err := workbook.Open(args[0])
	if err != nil {
		return err
	}

	// The workbook passed here is the source; the target is always sqlite
	storeKind = "sqlite"
	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()
	if app.DB == nil {
		return errors.New("import needs the sqlite store")
	}

	var progress importer.ProgressCallback
	if term.IsTerminal(int(os.Stdout.Fd())) {
		progress = importer.NewProgressReporter(os.Stdout)
	}

	res, err := importer.New(app.DB).ImportAll(ctx, src, progress)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Cases: %d imported, %d already present, %d invalid\n", res.CasesImported, res.CasesSkipped, res.CasesInvalid)
	fmt.Printf("Users: %d imported, %d skipped\n", res.UsersImported, res.UsersSkipped)
	return nil
}
