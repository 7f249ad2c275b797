package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runEntities []string
	runDate     string
	runCadence  string
)

var runCmd = &cobra.Command{
	Use:       "run risk|compliance",
	Short:     "Run a scoring batch once and print the report",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(scoring.KindRisk), string(scoring.KindCompliance)},
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scoring.RunRequest{
			Kind:      scoring.Kind(args[0]),
			EntityIDs: runEntities,
			Cadence:   runCadence,
		}
		if runDate != "" {
			d, err := time.Parse("2006-01-02", runDate)
			if err != nil {
				return eris.Wrapf(domain.ErrValidation, "--date must be YYYY-MM-DD: %v", err)
			}
			req.Date = d
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report, runErr := a.orchestrator.RunBatch(cmd.Context(), domain.SystemActor, req)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "encode report")
			}
			zap.L().Info("prudence: batch finished",
				zap.String("kind", string(report.Kind)),
				zap.Int("total", report.Total),
				zap.Int("failed", report.Failed),
				zap.Int("breaches", report.Breaches))
		}
		return runErr
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-check the latest scores of every entity for breaches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.orchestrator.SweepBreaches(cmd.Context(), domain.SystemActor)
		if err != nil {
			return err
		}
		zap.L().Info("prudence: breach sweep finished", zap.Int("breaches", n))
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runEntities, "entity", nil, "entity IDs to score (default every active entity)")
	runCmd.Flags().StringVar(&runDate, "date", "", "anchor date YYYY-MM-DD (default today)")
	runCmd.Flags().StringVar(&runCadence, "cadence", "", "QUARTERLY, ANNUAL or AD_HOC (risk only)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}
