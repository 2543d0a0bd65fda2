package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/bazaar-realtime/internal/stats"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show broker statistics (requires an admin token)",
		RunE:  runStats,
	}
	cmd.Flags().String("token", envOr("RTCTL_TOKEN", ""), "Admin connection token")
	cmd.Flags().Bool("json", false, "Print the raw JSON snapshot")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	raw, _ := cmd.Flags().GetBool("json")
	if token == "" {
		return fmt.Errorf("--token is required or set RTCTL_TOKEN environment variable")
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(server, "/")+"/api/realtime/stats", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := cmd.OutOrStdout()
	if raw {
		fmt.Fprintln(out, string(body))
		return nil
	}

	var snap stats.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("failed to parse stats: %w", err)
	}

	fmt.Fprintf(out, "Broker stats from %s (up %s):\n\n", server, snap.TakenAt.Sub(snap.StartedAt).Round(time.Second))
	rows := []struct {
		name  string
		value int64
	}{
		{"connections (active)", snap.ConnectionsActive},
		{"connections (total)", snap.ConnectionsTotal},
		{"channels (active)", int64(snap.ActiveChannels)},
		{"messages sent", snap.MessagesSent},
		{"messages received", snap.MessagesReceived},
		{"errors", snap.Errors},
		{"delivery failures", snap.DeliveryFailures},
		{"rate limited", snap.RateLimited},
		{"auth failures", snap.AuthFailures},
		{"heartbeat timeouts", snap.HeartbeatTimeouts},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  %-22s %d\n", r.name, r.value)
	}
	return nil
}
