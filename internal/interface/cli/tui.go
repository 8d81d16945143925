package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/interface/tui"
	"github.com/spf13/cobra"
)

var tuiSpecialty string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive case simulator",
	Long:  "Launch a terminal UI with a chat against the simulated patient and a browser over past cases",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().StringVarP(&tuiSpecialty, "specialty", "s", "psf", "Specialty: psf, pediatria or emergencias")
}

func runTUI(cmd *cobra.Command, args []string) error {
	specialty, err := models.ParseSpecialty(tuiSpecialty)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	// Log lines would corrupt the screen
	app, err := openApp(ctx, true, orchestrator.QuietLogger())
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	user, err := login(ctx, app)
	if err != nil {
		return err
	}

	model := tui.New(ctx, app.Orch, app.Store, user, specialty)
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
