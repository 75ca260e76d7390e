package cmd

import (
	"fmt"

	"github.com/nfrund/chathub/internal/broker"
	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/event"
	"github.com/spf13/cobra"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Manage the broker queues",
}

var queuesDeclareCmd = &cobra.Command{
	Use:   "declare",
	Short: "Declare message_queue and notification_queue as durable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		g, err := broker.Connect(cmd.Context(), broker.Config{
			URL:      cfg.Broker.URL,
			Group:    cfg.Broker.ConsumerGroup,
			Consumer: cfg.InstanceID,
		})
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer g.Close()

		for _, q := range event.Queues {
			if err := g.DeclareQueue(cmd.Context(), q, true); err != nil {
				return fmt.Errorf("declare %s: %w", q, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "declared %s\n", q)
		}
		return nil
	},
}

func init() {
	queuesCmd.AddCommand(queuesDeclareCmd)
	rootCmd.AddCommand(queuesCmd)
}
