/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/paperflow/service"
	"github.com/tieubaoca/paperflow/types"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show or wait for the state of a remote batch",
	Long: `Prints the per-file state of a batch. With --wait the command keeps
polling until --expected items (default: all reported items) are terminal or
the poll deadline passes, which lets an interrupted run be picked up again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID := args[0]
		wait, _ := cmd.Flags().GetBool("wait")
		expected, _ := cmd.Flags().GetInt("expected")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, _, err := newMinerUClient(cfg, logger)
		if err != nil {
			return err
		}
		items, err := client.GetBatchStatus(ctx, batchID)
		if err != nil {
			return err
		}
		if wait {
			if expected <= 0 {
				expected = len(items)
			}
			poller := service.NewBatchPoller(client, service.BatchPollerConfig{
				Interval: cfg.Pipeline.PollInterval,
				Deadline: cfg.Pipeline.PollDeadline,
			}, logger)
			items, err = poller.AwaitCompletion(ctx, batchID, expected)
			var timeout *types.PollTimeoutError
			if errors.As(err, &timeout) {
				fmt.Fprintln(cmd.ErrOrStderr(), "deadline reached, last snapshot:")
				items, err = timeout.Snapshot, nil
			}
			if err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tDATA ID\tSTATE\tPAGES\tERROR")
		for _, it := range items {
			pages := ""
			if it.TotalPages > 0 {
				pages = fmt.Sprintf("%d/%d", it.ExtractedPages, it.TotalPages)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.FileName, it.DataID, it.State, pages, it.ErrMsg)
		}
		fmt.Fprintf(w, "%d/%d terminal\n", types.CountTerminal(items), len(items))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("wait", false, "poll until the batch finishes")
	statusCmd.Flags().Int("expected", 0, "number of terminal items to wait for")
}
