package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.AppAddr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address, overrides APP_ADDR")
	rootCmd.AddCommand(serveCmd)
}
