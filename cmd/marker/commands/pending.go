package commands

import (
	"context"

	"github.com/dyluth/marker/internal/pending"
	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	pendingReviewer string
	pendingPeriod   int
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show a reviewer's outstanding submissions",
	Long: `Show what a reviewer still has to review in a period: submissions
assigned to them that have an artifact and no verdict yet.

Examples:
  marker pending --reviewer @rita
  marker pending --reviewer @rita --period 3`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

func init() {
	pendingCmd.Flags().StringVarP(&pendingReviewer, "reviewer", "r", "", "Reviewer handle (required)")
	pendingCmd.Flags().IntVarP(&pendingPeriod, "period", "p", 0, "Period number (default: current)")
	pendingCmd.MarkFlagRequired("reviewer")
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	period := pendingPeriod
	if period == 0 {
		if period, err = client.CurrentPeriod(ctx); err != nil {
			return err
		}
		if period == 0 {
			printer.Info("No periods yet.\n")
			return nil
		}
	}

	set, err := pending.Rebuild(ctx, client, ledger.NormalizeHandle(pendingReviewer), period)
	if ledger.IsNotFound(err) {
		return printer.Error("unknown period", err.Error(), []string{"List periods:\n  marker period list"})
	}
	if err != nil {
		return err
	}

	printer.Println(set.Summary())
	return nil
}
