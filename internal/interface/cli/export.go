package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <case-id>",
	Short: "Export a case write-up to markdown",
	Long: `Export a finalized case to a markdown file.

By default exports to current directory as case-<id>.md. The id may be
shortened to any unique prefix. Use --output to specify a custom path.

Examples:
  casesim export 3f2a9c1e
  casesim export 3f2a9c1e --output ~/casos/bronquiolite.md
  casesim export 3f2a9c1e -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path, - for stdout (default: case-<id>.md in current directory)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	rec, err := app.Store.GetCase(ctx, args[0])
	if err != nil {
		return fmt.Errorf("case not found: %w", err)
	}

	content := renderCaseMarkdown(rec)
	if exportOutput == "-" {
		fmt.Print(content)
		return nil
	}

	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	// Determine output path
	outputPath := exportOutput
	if outputPath == "" {
		outputPath = filepath.Join(cwd, fmt.Sprintf("case-%s.md", shortID(rec.ID)))
	} else if !filepath.IsAbs(outputPath) {
		// Make relative paths absolute to current directory
		outputPath = filepath.Join(cwd, outputPath)
	}

	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Exported case to: %s\n", outputPath)
	return nil
}

func renderCaseMarkdown(rec *models.CaseRecord) string {
	var b strings.Builder

	b.WriteString("# Caso clínico: ")
	b.WriteString(rec.Specialty.Label())
	b.WriteString("\n\n")

	b.WriteString("**Case ID:** `")
	b.WriteString(rec.ID)
	b.WriteString("`  \n")
	b.WriteString("**Estudante:** ")
	b.WriteString(rec.User)
	b.WriteString("  \n")
	b.WriteString("**Data:** ")
	b.WriteString(rec.CreatedAt.Local().Format("02/01/2006 15:04"))
	b.WriteString("  \n")
	b.WriteString("**Nota:** ")
	if rec.HasScore() {
		b.WriteString(formatScore(*rec.Score))
		b.WriteString("/10")
	} else {
		b.WriteString("não encontrada")
	}
	b.WriteString("\n\n")
	b.WriteString("---\n\n")

	report := rec.Report
	if strings.TrimSpace(report) == "" {
		report = rec.Summary
	}
	b.WriteString(strings.TrimSpace(report))
	b.WriteString("\n")
	return b.String()
}
