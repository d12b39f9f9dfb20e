package cmd

import (
	"fmt"

	"github.com/pathakanu/pillLens/internal/fixtures"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load profiles, medications and reminders from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	file, err := fixtures.LoadFile(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(metrics.NewNop())
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := file.Apply(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	a.logger.Info("fixtures imported",
		zap.String("file", args[0]),
		zap.Int("profiles", sum.Profiles),
		zap.Int("medications", sum.Medications),
		zap.Int("reminders", sum.Reminders))
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d profiles, %d medications, %d reminders\n", sum.Profiles, sum.Medications, sum.Reminders)
	return nil
}
