package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue all failed downloads",
	Long: "retry moves every failed record back to pending with a fresh attempt\n" +
		"budget. The next 'bookhaul download' run picks them up again.",
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}

	n, err := repo.ResetFailed(cmd.Context())
	if err != nil {
		return fmt.Errorf("reset failed records: %w", err)
	}
	fmt.Printf("Requeued %d failed records.\n", n)
	return nil
}
