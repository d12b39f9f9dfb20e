package cmd

import (
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	checkUser     string
	checkTimezone string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one missed-dose check for a user and print the result",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkUser, "user", "", "User id (required)")
	checkCmd.Flags().StringVar(&checkTimezone, "tz", "", "IANA timezone; defaults to the profile or LOCAL_TIMEZONE")
	_ = checkCmd.MarkFlagRequired("user")
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(metrics.NewNop())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.CheckAndMarkMissedDoses(cmd.Context(), checkUser, checkTimezone)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
