package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloo-solutions/chimera/internal/cli"
	"github.com/cloo-solutions/chimera/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chimera",
		Short: "Chimera CLI - sync sources and ask questions against knowledge bases",
		Long: `Chimera CLI talks to a chimerad server to ingest data sources and run
retrieval-augmented questions over vector and graph indexes.

Environment variables:
  CHIMERA_API_KEY   API key for authentication (optional when the server runs without keys)
  CHIMERA_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SyncCmd())
	rootCmd.AddCommand(client.EnqueueCmd())
	rootCmd.AddCommand(client.RunCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.AuthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if handled, err := cli.CheckHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
