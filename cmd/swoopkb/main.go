package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/cli"
	"github.com/swoopinfo/swoopkb/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "swoopkb",
		Short: "SwoopKB CLI - Vehicle repair knowledge on demand",
		Long: `SwoopKB CLI resolves AI-generated repair knowledge chunks for specific vehicles.

Environment variables:
  SWOOPKB_API_URL       API base URL (default: http://localhost:8080)
  SWOOPKB_ADMIN_TOKEN   Admin token for operator commands`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	rootCmd.PersistentFlags().String("token", "", "Admin token (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.ResolveCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.QACmd())
	rootCmd.AddCommand(client.InspectCmd())
	rootCmd.AddCommand(client.UnbanCmd())
	rootCmd.AddCommand(client.QATriggerCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
