package main

import (
	"github.com/opensource-finance/prudence/internal/config"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfg *domain.Config

var rootCmd = &cobra.Command{
	Use:   "prudence",
	Short: "Risk and compliance scoring engine",
	Long:  "Scores supervised entities for risk and compliance, records auditable breakdowns and publishes breach events.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		zap.L().Debug("prudence: configuration loaded",
			zap.String("version", Version),
			zap.String("profile", string(cfg.Profile)),
			zap.String("repository", cfg.Repository.Driver),
			zap.String("cache", cfg.Cache.Type),
			zap.String("event_bus", cfg.EventBus.Type))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}
