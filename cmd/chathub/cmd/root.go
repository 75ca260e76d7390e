package cmd

import (
	"os"

	"github.com/nfrund/chathub/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chathub",
	Short: "Chathub real-time chat server",
	Long: `Chathub serves chat sessions over websockets and fans events out
through a message broker.

Available commands:
  serve            Run the server
  token            Issue an access token for a user
  queues declare   Declare the broker queues
  version          Print the version

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.New()
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
