package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"packetwatch/internal/metrics"
)

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var summary metrics.Summary
			if err := client.get(cmd.Context(), "/api/metrics", nil, &summary); err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, summary)
			}

			rows := [][]string{
				{"Critical Errors", strconv.Itoa(summary.CriticalErrors)},
				{"Pending Manual Review", strconv.Itoa(summary.PendingManualReview)},
				{"Processing Now", strconv.Itoa(summary.ProcessingNow)},
				{"Completed Today", strconv.Itoa(summary.CompletedToday)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var status struct {
				Running bool           `json:"running"`
				Stats   map[string]int `json:"stats"`
				Total   int            `json:"total"`
				Stages  []struct {
					Index int    `json:"index"`
					Name  string `json:"name"`
				} `json:"stages"`
			}
			if err := client.get(cmd.Context(), "/api/status", nil, &status); err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			state := "stopped"
			if status.Running {
				state = "running"
			}
			fmt.Fprintf(out, "Daemon:  %s\n", state)
			fmt.Fprintf(out, "Packets: %d total\n", status.Total)
			for _, key := range []string{"in_progress", "manual_correction", "api_error", "delivered"} {
				if count, ok := status.Stats[key]; ok && count > 0 {
					fmt.Fprintf(out, "  %-18s %d\n", key, count)
				}
			}
			fmt.Fprintln(out, "\nPipeline stages:")
			for _, s := range status.Stages {
				fmt.Fprintf(out, "  %d. %s\n", s.Index, s.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
