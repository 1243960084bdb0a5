package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tywang/bookhaul/internal/domain"
)

var statusShow string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show download ledger statistics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusShow, "show", "", "also list records in this status (e.g. failed)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stats, err := repo.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	totalSize, err := repo.TotalSize(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	order := []domain.Status{
		domain.StatusPending, domain.StatusResolving, domain.StatusDownloading,
		domain.StatusExtracting, domain.StatusCompleted, domain.StatusFailed,
	}
	var total int64
	for _, st := range order {
		total += stats[st]
	}

	fmt.Printf("Ledger: %d records\n", total)
	for _, st := range order {
		if stats[st] > 0 {
			fmt.Printf("  %-12s %d\n", st, stats[st])
		}
	}
	fmt.Printf("Completed size: %s\n", humanBytes(totalSize))

	if statusShow != "" {
		recs, err := repo.ListByStatus(ctx, domain.Status(statusShow), 0)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		fmt.Printf("\n%s records:\n", statusShow)
		for _, rec := range recs {
			line := fmt.Sprintf("  %-28s  attempts=%d", rec.BookUID, rec.AttemptCount)
			if rec.TotalBytes > 0 {
				line += fmt.Sprintf("  %s/%s", humanBytes(rec.BytesDownloaded), humanBytes(rec.TotalBytes))
			}
			if rec.LastError != "" {
				line += "  " + rec.LastError
			}
			fmt.Println(line)
		}
	}
	return nil
}

// humanBytes renders a byte count with a binary unit suffix.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
