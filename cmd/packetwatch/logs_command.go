package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"packetwatch/internal/api"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			offset := int64(-1)
			for {
				query := url.Values{}
				query.Set("offset", strconv.FormatInt(offset, 10))
				query.Set("lines", strconv.Itoa(lines))
				if follow && offset >= 0 {
					query.Set("follow", "1")
				}

				var tail api.LogTail
				if err := client.get(cmd.Context(), "/api/logs", query, &tail); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, line := range tail.Lines {
					fmt.Fprintln(out, line)
				}
				offset = tail.Offset

				if !follow {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				default:
				}
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new log lines")
	return cmd
}
