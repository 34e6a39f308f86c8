// Command relayctl administers a running relayd over its operator API.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/relay/internal/config"
	"github.com/h1v3-io/relay/internal/logbuf"
)

// Global flags
var (
	apiURL     string
	apiKey     string
	jsonOutput bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Administer a running relayd",
		Long: `relayctl talks to the relayd operator API.

Examples:
  relayctl health
  relayctl tickets list --status open
  relayctl tickets show 1718000000123
  relayctl channels add -- -1001234567890
  relayctl logs --ticket 1718000000123
  relayctl config validate relay.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", envOr("RELAY_API_URL", "http://localhost:8080"), "relayd API URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("RELAY_API_KEY"), "API key for authentication")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	root.AddCommand(newHealthCmd(), newTicketsCmd(), newChannelsCmd(), newLogsCmd(), newConfigCmd())
	return root
}

func apiClient() *client { return newClient(apiURL, apiKey) }

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := apiClient().get(cmd.Context(), "/api/health")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	var (
		level  string
		ticket string
		limit  int
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if level != "" {
				q.Set("level", level)
			}
			if ticket != "" {
				q.Set("ticket", ticket)
			}
			if since > 0 {
				q.Set("since", strconv.FormatInt(time.Now().Add(-since).UnixMilli(), 10))
			}

			body, err := apiClient().get(cmd.Context(), "/api/logs?"+q.Encode())
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
				return nil
			}
			var entries []logbuf.Entry
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("decode logs: %w", err)
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s %s", e.Time.Format(time.DateTime), e.Level, e.Message)
				for k, v := range e.Attrs {
					fmt.Fprintf(cmd.OutOrStdout(), " %s=%v", k, v)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&ticket, "ticket", "", "Only entries for this ticket id")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 15m)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	})
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
