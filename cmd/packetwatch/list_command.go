package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"packetwatch/internal/api"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		search   string
		statuses []string
		channels []string
		date     string
		from     string
		to       string
		metric   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packets, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if strings.TrimSpace(search) != "" {
				query.Set("search", strings.TrimSpace(search))
			}
			for _, status := range statuses {
				query.Add("status", status)
			}
			for _, channel := range channels {
				query.Add("channel", channel)
			}
			if date != "" {
				query.Set("date", date)
			}
			if from != "" {
				query.Set("from", from)
			}
			if to != "" {
				query.Set("to", to)
			}
			if metric != "" {
				query.Set("metric", metric)
			}

			var list api.PacketList
			if err := client.get(cmd.Context(), "/api/packets", query, &list); err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, list)
			}

			out := cmd.OutOrStdout()
			if list.Count == 0 {
				fmt.Fprintln(out, "No packets match.")
				return nil
			}

			rows := make([][]string, 0, len(list.Packets))
			for _, p := range list.Packets {
				alert := ""
				if p.Alert != "none" {
					alert = p.Alert
				}
				rows = append(rows, []string{
					p.ID,
					p.ChannelLabel,
					fmt.Sprintf("%d. %s", p.CurrentStage, p.StageName),
					p.StatusLabel,
					alert,
					fmt.Sprintf("%d", p.ErrorCount),
					p.LastUpdate,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Channel", "Stage", "Status", "Alert", "Errors", "Last Update"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d of %d packets\n", list.Count, list.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Match packet id, patient, or provider")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Quick status filter (errors|inProgress|delivered|stuck)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel filter (fax|esmd|provider_portal)")
	cmd.Flags().StringVar(&date, "date", "", "Date window (today|24h|7d|custom)")
	cmd.Flags().StringVar(&from, "from", "", "Custom range start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Custom range end (RFC3339)")
	cmd.Flags().StringVar(&metric, "metric", "", "Quick metric filter (critical_errors|pending_manual_review|processing_now|completed_today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
