package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/neilberkman/casesim/cmd/casesim/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server for running cases from an MCP client",
	Long: `Start an MCP (Model Context Protocol) server that lets an MCP client
open simulated cases, talk to the patient, finalize and browse past cases.

Stdin carries the protocol, so the user and password come from the
environment or config. Configure your client like this:
  {
    "mcpServers": {
      "casesim": {
        "command": "casesim",
        "args": ["serve-mcp", "--user", "ana"],
        "env": {"CASESIM_PASSWORD": "..."}
      }
    }
  }
`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// Stdout belongs to the protocol
	app, err := openApp(ctx, true, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Printf("Error closing store: %v", closeErr)
		}
	}()

	user, err := login(ctx, app)
	if err != nil {
		return err
	}

	if err := mcp.StartServer(app.Orch, app.Store, user, version); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
