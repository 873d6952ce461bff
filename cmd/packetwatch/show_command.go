package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"packetwatch/internal/api"
)

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <packet-id>",
		Short: "Show a packet with its incidents and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var detail api.PacketDetail
			if err := client.get(cmd.Context(), "/api/packets/"+strings.TrimSpace(args[0]), nil, &detail); err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, detail)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintf(out, "Packet %s\n", detail.ID)
			fmt.Fprintf(out, "  Channel:  %s\n", detail.ChannelLabel)
			fmt.Fprintf(out, "  Stage:    %d. %s\n", detail.CurrentStage, detail.StageName)
			fmt.Fprintf(out, "  Status:   %s\n", decorateStatus(detail.Packet, colorize))
			if detail.LastUpdate != "" {
				fmt.Fprintf(out, "  Updated:  %s\n", detail.LastUpdate)
			}
			if detail.ContainsPHI {
				fmt.Fprintln(out, "  Payload:  contains PHI (authorization required for download)")
			}

			if detail.DominantIncident != nil {
				inc := detail.DominantIncident
				fmt.Fprintf(out, "\nCurrent issue: [%s] %s (%s)\n", inc.Code, inc.Message, inc.Severity)
				if inc.ResolutionHint != "" {
					fmt.Fprintf(out, "  Hint: %s\n", inc.ResolutionHint)
				}
			}

			if len(detail.Incidents) > 0 {
				fmt.Fprintf(out, "\nIncidents (%d):\n", len(detail.Incidents))
				rows := make([][]string, 0, len(detail.Incidents))
				for _, inc := range detail.Incidents {
					rows = append(rows, []string{
						inc.OccurredAt, inc.Code, inc.Severity, inc.StageName, inc.Message,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Occurred", "Code", "Severity", "Stage", "Message"},
					rows, nil,
				))
			}

			if len(detail.AuditTrail) > 0 {
				fmt.Fprintf(out, "\nAudit trail (%d entries):\n", len(detail.AuditTrail))
				for _, entry := range detail.AuditTrail {
					marker := " "
					if entry.Manual {
						marker = "*"
					}
					line := fmt.Sprintf("  %s %s  %d. %s", marker, entry.EnteredAt, entry.Stage, entry.StageName)
					if entry.Note != "" {
						line += " (" + entry.Note + ")"
					}
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, "  (* = manual override)")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func decorateStatus(p api.Packet, colorize bool) string {
	label := p.StatusLabel
	if p.Alert != "" && p.Alert != "none" {
		label += " (" + p.Alert + ")"
	}
	if !colorize {
		return label
	}
	switch p.Alert {
	case "critical":
		return ansiRed + label + ansiReset
	case "aging":
		return ansiYellow + label + ansiReset
	}
	return label
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
