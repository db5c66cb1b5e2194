package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Maintain persisted time slots",
	}
	cmd.AddCommand(pregenerateCmd())
	cmd.AddCommand(cleanupCmd())
	return cmd
}

func pregenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pregenerate",
		Short: "Persist generated slots for a professional over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("professional")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			duration, _ := cmd.Flags().GetInt("duration")

			professionalID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--professional must be a uuid: %w", err)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orchestrator.PreGenerateSlots(cmd.Context(), professionalID, from, to, duration)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().String("professional", "", "Professional id or user id")
	cmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last date (YYYY-MM-DD)")
	cmd.Flags().Int("duration", 0, "Slot length in minutes (defaults to the configured duration)")
	_ = cmd.MarkFlagRequired("professional")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale, unbooked persisted slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.orchestrator.CleanupStaleSlots(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d stale slot(s).\n", n)
			return nil
		},
	}
}
