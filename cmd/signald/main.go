package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spec-kit/call-signaling/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "signald",
	Short: "WebRTC call signaling relay for support tickets",
	Long: `signald relays SDP offers, answers and ICE candidates between the
customer and the supporter of a support request, and reports when their
call starts and ends. Running it without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         func(cmd *cobra.Command, args []string) error { return runServe(cmd.Context()) },
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, hashKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
