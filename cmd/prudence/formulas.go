package main

import (
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedActorID string

var formulasCmd = &cobra.Command{
	Use:   "formulas",
	Short: "Manage scoring formulas",
}

var formulasSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Persist the built-in default formulas for types that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		actor := domain.Actor{ID: seedActorID, Role: domain.RoleAdmin}
		seeded, err := a.registry.SeedBuiltins(cmd.Context(), actor)
		for _, f := range seeded {
			zap.L().Info("prudence: seeded formula",
				zap.String("formula_type", string(f.FormulaType)),
				zap.String("formula_id", f.ID))
		}
		if err != nil {
			return err
		}
		zap.L().Info("prudence: formula seed finished", zap.Int("seeded", len(seeded)))
		return nil
	},
}

func init() {
	formulasSeedCmd.Flags().StringVar(&seedActorID, "actor", "prudence-cli", "actor recorded as creator of seeded formulas")
	formulasCmd.AddCommand(formulasSeedCmd)
	rootCmd.AddCommand(formulasCmd)
}
