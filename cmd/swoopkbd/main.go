package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/cli"
	"github.com/swoopinfo/swoopkb/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "swoopkbd",
		Short: "SwoopKB daemon and CLI",
		Long:  "SwoopKB daemon for running the API server, generation workers, and QA sweeps",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.ChunkCmd())
	rootCmd.AddCommand(admin.QACmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
