package cmd

import (
	"fmt"
	"time"

	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	recoveryUser       string
	recoveryMedication string
	recoveryMissedAt   string
	recoveryFrequency  string
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Ask whether a missed dose can still be taken",
	Args:  cobra.NoArgs,
	RunE:  runRecovery,
}

func init() {
	recoveryCmd.Flags().StringVar(&recoveryUser, "user", "", "User id (required)")
	recoveryCmd.Flags().StringVar(&recoveryMedication, "medication", "", "Medication id (required)")
	recoveryCmd.Flags().StringVar(&recoveryMissedAt, "missed-at", "", "Scheduled time of the missed dose, RFC3339 (required)")
	recoveryCmd.Flags().StringVar(&recoveryFrequency, "frequency", "", "Frequency label; defaults to the medication's")
	_ = recoveryCmd.MarkFlagRequired("user")
	_ = recoveryCmd.MarkFlagRequired("medication")
	_ = recoveryCmd.MarkFlagRequired("missed-at")
}

func runRecovery(cmd *cobra.Command, args []string) error {
	missed, err := time.Parse(time.RFC3339, recoveryMissedAt)
	if err != nil {
		return fmt.Errorf("invalid --missed-at %q: %w", recoveryMissedAt, err)
	}

	a, err := newApp(metrics.NewNop())
	if err != nil {
		return err
	}
	defer a.Close()

	advice, err := a.service.CheckMissedDoseRecovery(cmd.Context(), recoveryUser, recoveryMedication, missed, recoveryFrequency)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), advice)
}
