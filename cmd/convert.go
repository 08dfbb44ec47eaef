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
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/paperflow/service"
	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert PDF papers to markdown and JSON",
	Long: `Converts the given PDF files, or every PDF in --input-dir, through the
remote parsing service. Outputs are written per paper stem under the configured
text and data roots. Every input gets one outcome in the run ledger.

The command exits non-zero only when the service could not be reached at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyConvertFlags(cmd)

		inputDir, _ := cmd.Flags().GetString("input-dir")
		inputs, err := service.CollectInputs(inputDir, args)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			logger.Warn("no input files found", zap.String("input_dir", inputDir))
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var flags hookFlags
		flags.summarize, _ = cmd.Flags().GetBool("summarize")
		flags.decide, _ = cmd.Flags().GetBool("decide")
		flags.index, _ = cmd.Flags().GetBool("index")

		date := time.Now()
		repo, closeRepo, err := newOutcomeRepo(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()
		hook, waitHooks, err := newHooks(ctx, cfg, logger, flags)
		if err != nil {
			return err
		}
		p, err := newPipeline(cfg, logger, date, repo, hook)
		if err != nil {
			return err
		}

		report, runErr := p.factory(nil).Run(ctx, inputs)
		if failed := waitHooks(); failed > 0 {
			logger.Warn("some downstream hooks failed", zap.Int("failed", failed))
		}
		printReport(cmd, report)
		if runErr != nil && errors.Is(runErr, types.ErrServiceUnreachable) {
			return runErr
		}
		return nil
	},
}

// applyConvertFlags lets explicitly set flags override the loaded config.
func applyConvertFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	if fs.Changed("chunk-size") {
		cfg.Pipeline.ChunkSize, _ = fs.GetInt("chunk-size")
	}
	if fs.Changed("upload-concurrency") {
		cfg.Pipeline.UploadConcurrency, _ = fs.GetInt("upload-concurrency")
	}
	if fs.Changed("limit") {
		cfg.Pipeline.LimitFiles, _ = fs.GetInt("limit")
	}
	if fs.Changed("skip-existing") {
		cfg.Pipeline.SkipExisting, _ = fs.GetBool("skip-existing")
	}
	if fs.Changed("keep-zip") {
		cfg.Pipeline.KeepZip, _ = fs.GetBool("keep-zip")
	}
	if fs.Changed("model-version") {
		cfg.MinerU.Options.ModelVersion, _ = fs.GetString("model-version")
	}
	if fs.Changed("poll-deadline") {
		cfg.Pipeline.PollDeadline, _ = fs.GetDuration("poll-deadline")
	}
}

func printReport(cmd *cobra.Command, report *types.RunReport) {
	if report == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d succeeded, %d failed, %d skipped\n",
		report.RunID, report.Succeeded, report.Failed, report.Skipped)

	failures := report.Failures()
	kinds := make([]string, 0, len(failures))
	for k := range failures {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %s:\n", k)
		for _, o := range failures[types.FailureKind(k)] {
			fmt.Fprintf(out, "    %s: %s\n", o.Name, o.Error)
		}
	}
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringP("input-dir", "d", "", "directory of PDF files to convert")
	convertCmd.Flags().Int("limit", 0, "convert at most this many files")
	convertCmd.Flags().Int("chunk-size", 10, "files per remote batch")
	convertCmd.Flags().Int("upload-concurrency", 10, "simultaneous uploads")
	convertCmd.Flags().Bool("skip-existing", false, "skip papers whose outputs already exist")
	convertCmd.Flags().Bool("keep-zip", false, "keep downloaded result archives")
	convertCmd.Flags().String("model-version", "vlm", "remote model version (vlm or pipeline)")
	convertCmd.Flags().Duration("poll-deadline", 900*time.Second, "how long to wait for a batch")
	convertCmd.Flags().Bool("summarize", false, "write an LLM summary of every converted paper")
	convertCmd.Flags().Bool("decide", false, "ask an LLM for the main institution of every converted paper")
	convertCmd.Flags().Bool("index", false, "index converted papers into Weaviate")
}
