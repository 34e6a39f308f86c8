package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/relay/internal/api"
)

func newChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage authorized requester channels",
		Long: `Manage authorized requester channels.

Telegram group ids are negative; put them after "--" so they are not
parsed as flags:
  relayctl channels add -- -1001234567890`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List authorized channels",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				body, err := apiClient().get(cmd.Context(), "/api/channels")
				if err != nil {
					return err
				}
				if jsonOutput {
					fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
					return nil
				}
				var channels []string
				if err := json.Unmarshal(body, &channels); err != nil {
					return fmt.Errorf("decode channels: %w", err)
				}
				if len(channels) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no authorized channels")
				}
				for _, c := range channels {
					fmt.Fprintln(cmd.OutOrStdout(), c)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <channel-id>",
			Short: "Authorize a requester channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := apiClient().post(cmd.Context(), "/api/channels", api.ChannelRequest{ChannelID: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "authorized %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <channel-id>",
			Short: "Revoke a requester channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := apiClient().delete(cmd.Context(), "/api/channels/"+url.PathEscape(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
