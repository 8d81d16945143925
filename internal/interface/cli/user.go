package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage students",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a student login",
	Long: `Add a student to the sqlite store. The password is read from
CASESIM_PASSWORD or prompted for twice. Workbook stores keep logins in the
Login sheet instead; edit the spreadsheet to add students there.

Examples:
  casesim user add ana
  CASESIM_PASSWORD=secret casesim user add bruno`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("user name cannot be empty")
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()
	if app.DB == nil {
		return errors.New("user add needs the sqlite store; add the student to the workbook's Login sheet")
	}

	pw, err := readPassword("Senha: ")
	if err != nil {
		return err
	}
	if _, fromEnv := os.LookupEnv("CASESIM_PASSWORD"); !fromEnv {
		again, err := readPassword("Repita a senha: ")
		if err != nil {
			return err
		}
		if again != pw {
			return errors.New("passwords do not match")
		}
	}
	if pw == "" {
		return errors.New("password cannot be empty")
	}

	if err := app.DB.AddUser(ctx, name, pw); err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	fmt.Printf("Added user %s\n", name)
	return nil
}
