package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/bazaar-realtime/pkg/broadcast"
)

func newBroadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast <channel>",
		Short: "Send an envelope to a channel through the gateway",
		Example: `  rtctl broadcast promotions --kind promotion-update --data '{"title":"Spring sale"}'
  rtctl broadcast deliveries.C1 --kind order-update --data '{"order_id":"o-1","status":"ready"}'`,
		Args: cobra.ExactArgs(1),
		RunE: runBroadcast,
	}
	cmd.Flags().String("kind", broadcast.KindSystemNotification, "Envelope kind")
	cmd.Flags().String("data", "", "Envelope data as JSON")
	cmd.Flags().String("token", envOr("GATEWAY_TOKEN", "dev-gateway-token"), "Gateway service token")
	cmd.Flags().Duration("timeout", broadcast.DefaultTimeout, "Request timeout")
	return cmd
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	kind, _ := cmd.Flags().GetString("kind")
	data, _ := cmd.Flags().GetString("data")
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	env := broadcast.Envelope{Kind: kind}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		env.Data = json.RawMessage(data)
	}

	client := broadcast.NewClient(server, token, broadcast.WithTimeout(timeout))
	n, err := client.Broadcast(cmd.Context(), args[0], env)
	if err != nil {
		return fmt.Errorf("broadcast failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d subscriber(s) on %s\n", n, args[0])
	return nil
}
