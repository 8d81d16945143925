package cli

import (
	"fmt"

	"github.com/neilberkman/casesim/internal/core/llm"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/spf13/cobra"
)

var debugPromptSpecialty string

var debugPromptCmd = &cobra.Command{
	Use:   "debug-prompt",
	Short: "Show the opening and final prompts a new case would send",
	RunE:  runDebugPrompt,
}

func init() {
	rootCmd.AddCommand(debugPromptCmd)
	debugPromptCmd.Flags().StringVarP(&debugPromptSpecialty, "specialty", "s", "psf", "Specialty: psf, pediatria or emergencias")
}

func runDebugPrompt(cmd *cobra.Command, args []string) error {
	specialty, err := models.ParseSpecialty(debugPromptSpecialty)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	user, err := requireUser(app)
	if err != nil {
		return err
	}

	// No threads needed to render prompts
	orch := orchestrator.New(nil, app.Store, orchestrator.Config{
		OpeningTemplate: app.Config.OpeningPromptTemplate,
		FinalTemplate:   app.Config.FinalPromptTemplate,
		Logger:          orchestrator.QuietLogger(),
	})
	opening, summaries, err := orch.OpeningPrompt(ctx, user, specialty)
	if err != nil {
		return fmt.Errorf("failed to render opening prompt: %w", err)
	}
	final, err := llm.RenderFinalPrompt(app.Config.FinalPromptTemplate, user, specialty.Label())
	if err != nil {
		return err
	}

	assistant := app.Config.Assistants[specialty]
	if assistant == "" {
		assistant = "(not configured, defaults to " + string(specialty) + ")"
	}

	fmt.Println("=== CASE INFO ===")
	fmt.Printf("Student:    %s\n", user)
	fmt.Printf("Specialty:  %s (%s)\n", specialty.Label(), specialty)
	fmt.Printf("Assistant:  %s\n", assistant)
	fmt.Printf("Provider:   %s\n", app.Config.Provider)
	fmt.Printf("Store:      %s\n", app.Config.Store)
	fmt.Printf("History:    %d prior summaries\n", len(summaries))
	fmt.Println()
	fmt.Println("=== OPENING PROMPT ===")
	fmt.Println(opening)
	fmt.Println()
	fmt.Println("=== FINAL PROMPT ===")
	fmt.Println(final)

	if err := app.Config.Validate(); err != nil {
		fmt.Println()
		fmt.Println("=== CONFIG PROBLEMS ===")
		fmt.Println(err)
	}
	return nil
}
