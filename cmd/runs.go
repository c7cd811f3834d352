package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tt2-roster/internal/runner"
)

func newFillGapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill-gaps",
		Short: "Fetch every ID in a range that is missing from the roster",
		Long: `Compacts the roster, then requests every ID in [--start, --end] that has no
row yet. Found profiles are appended as they arrive and merged into a sorted
rewrite at the end of each pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			if cfg.Fill.End == 0 {
				return fmt.Errorf("--end is required")
			}
			question := fmt.Sprintf("Fetch missing IDs %d..%d from %s?", cfg.Fill.Start, cfg.Fill.End, a.ProfileURL(cfg.Fill.Start))
			if err := gate(cmd, question); err != nil {
				return err
			}
			report, runErr := a.Runner().FillGaps(cmd.Context(), cfg.Fill.Start, cfg.Fill.End)
			return printReport(cmd, report, runErr)
		},
	}
	flags := cmd.Flags()
	flags.Uint64("start", 0, "first ID of the range (default 1)")
	flags.Uint64("end", 0, "last ID of the range")
	flags.Int("workers", 0, "concurrent lookups (default 6)")
	flags.Int("passes", 0, "maximum passes over the range (default 1)")
	flags.Bool("rich", false, "also harvest per-game account listings")
	return cmd
}

func newRecheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Re-fetch records whose display name is still a placeholder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := gate(cmd, "Re-check placeholder names against the remote service?"); err != nil {
				return err
			}
			report, runErr := a.Runner().RecheckProvisional(cmd.Context())
			return printReport(cmd, report, runErr)
		},
	}
	flags := cmd.Flags()
	flags.Int("max-passes", 0, "maximum recheck passes (default 5)")
	flags.Int("workers", 0, "concurrent lookups (default 6)")
	flags.Bool("rich", false, "also harvest per-game account listings")
	return cmd
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Sort and deduplicate the roster without network access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, runErr := a.Runner().Compact(cmd.Context())
			return printReport(cmd, report, runErr)
		},
	}
}

// printReport writes the report as JSON to stdout and passes runErr through.
func printReport(cmd *cobra.Command, report runner.Report, runErr error) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return runErr
}
