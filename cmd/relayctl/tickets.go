package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/relay/internal/api"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect tickets",
	}
	cmd.AddCommand(newTicketsListCmd(), newTicketsShowCmd())
	return cmd
}

func newTicketsListCmd() *cobra.Command {
	var (
		status  string
		channel string
		limit   int
		oldest  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if status != "" {
				q.Set("status", status)
			}
			if channel != "" {
				q.Set("channel", channel)
			}
			if oldest {
				q.Set("order", "asc")
			}

			body, err := apiClient().get(cmd.Context(), "/api/tickets?"+q.Encode())
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
				return nil
			}

			var list api.TicketList
			if err := json.Unmarshal(body, &list); err != nil {
				return fmt.Errorf("decode tickets: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCHANNEL\tREQUESTER\tCREATED")
			for _, t := range list.Tickets {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					t.ID, t.Status, t.RequesterChannelID, t.RequesterName, t.CreatedAt.Local().Format(time.DateTime))
			}
			w.Flush()
			if list.Total > len(list.Tickets) {
				fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d)\n", len(list.Tickets), list.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (open|closed)")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by requester channel id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	cmd.Flags().BoolVar(&oldest, "oldest", false, "Oldest first")
	return cmd
}

func newTicketsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show ticket details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiClient().get(cmd.Context(), "/api/tickets/"+url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}
