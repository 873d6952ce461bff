package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"packetwatch/internal/api"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		id       string
		channel  string
		patient  string
		provider string
		service  string
		phi      bool
		fields   []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Ingest a packet at stage 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			payloadFields := make(map[string]string, len(fields))
			for _, raw := range fields {
				key, value, ok := strings.Cut(raw, "=")
				if !ok {
					return fmt.Errorf("invalid field %q (expected key=value)", raw)
				}
				payloadFields[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}

			var created api.Packet
			err = client.post(cmd.Context(), "/api/packets", api.IngestRequest{
				ID:      strings.TrimSpace(id),
				Channel: channel,
				Payload: api.IngestPayload{
					ContainsPHI: phi,
					Patient:     patient,
					Provider:    provider,
					Service:     service,
					Fields:      payloadFields,
				},
			}, &created)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s on %s at stage 0 (%s)\n",
				created.ID, created.ChannelLabel, created.StageName)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Packet id (generated when omitted)")
	cmd.Flags().StringVar(&channel, "channel", "", "Intake channel (fax|esmd|provider_portal)")
	cmd.Flags().StringVar(&patient, "patient", "", "Patient name")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name")
	cmd.Flags().StringVar(&service, "service", "", "Service description")
	cmd.Flags().BoolVar(&phi, "phi", false, "Mark the payload as containing PHI")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Additional payload field (key=value, repeatable)")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <packet-id>",
		Short: "Return an errored packet to processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			id := strings.TrimSpace(args[0])
			var updated api.Packet
			if err := client.post(cmd.Context(), "/api/packets/"+id+"/retry", nil, &updated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retry accepted for %s; stage %d (%s) will re-run\n",
				updated.ID, updated.CurrentStage, updated.StageName)
			return nil
		},
	}
	return cmd
}

func newOverrideCommand(ctx *commandContext) *cobra.Command {
	var (
		reason  string
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "override <packet-id>",
		Short: "Force a packet past its current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			id := strings.TrimSpace(args[0])
			var updated api.Packet
			err = client.post(cmd.Context(), "/api/packets/"+id+"/override", api.OverrideRequest{
				Confirmed: confirm,
				Reason:    reason,
			}, &updated)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Overrode %s to stage %d (%s)\n",
				updated.ID, updated.CurrentStage, updated.StageName)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the audit entry")
	cmd.Flags().BoolVar(&confirm, "yes", false, "Acknowledge the forced advance")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var (
		phiAuthorized bool
		output        string
	)

	cmd := &cobra.Command{
		Use:   "download <packet-id>",
		Short: "Export a packet snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			id := strings.TrimSpace(args[0])
			query := url.Values{}
			if phiAuthorized {
				query.Set("phi", "1")
			}

			var snapshot map[string]any
			if err := client.get(cmd.Context(), "/api/packets/"+id+"/download", query, &snapshot); err != nil {
				return err
			}

			if output == "" {
				return writeJSON(cmd, snapshot)
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer file.Close()
			enc := newIndentedEncoder(file)
			if err := enc.Encode(snapshot); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote snapshot to %s\n", output)
			return nil
		},
	}

	cmd.Flags().BoolVar(&phiAuthorized, "phi", false, "Assert authorization to export PHI content")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the snapshot to a file instead of stdout")
	return cmd
}
