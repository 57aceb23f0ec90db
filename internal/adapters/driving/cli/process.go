package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

var (
	processStage       string
	processDocument    string
	processMetricsFile string

	retryStage    string
	retryDocument string

	skipStage    string
	skipDocument string
	skipReason   string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing pass",
	Long: `Runs every runnable (document, stage) pair until nothing is left to do.

Stages of one document run strictly in order; different documents run
concurrently up to each stage's worker limit. Transient failures are
retried with backoff; permanent failures mark the stage failed and block
its downstream stages.

Exit status is 1 when a stage ends the pass failed and 2 when the state
store is unavailable.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Move failed stages back to pending",
	Long: `Resets failed (document, stage) pairs to pending with a fresh retry
budget. Without flags every failed pair is reset.`,
	Args: cobra.NoArgs,
	RunE: runRetry,
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Mark a stage as skipped for one document",
	Long: `Marks a pending or failed pair as skipped. Downstream stages that
tolerate upstream failures may then run.`,
	Args: cobra.NoArgs,
	RunE: runSkip,
}

func init() {
	processCmd.Flags().StringVar(&processStage, "stage", "", "Only run this stage")
	processCmd.Flags().StringVar(&processDocument, "document", "", "Only process this document")
	processCmd.Flags().StringVar(&processMetricsFile, "metrics-file", "", "Write stage metrics in Prometheus text format to this file")

	retryCmd.Flags().StringVar(&retryStage, "stage", "", "Only reset this stage")
	retryCmd.Flags().StringVar(&retryDocument, "document", "", "Only reset this document")

	skipCmd.Flags().StringVar(&skipStage, "stage", "", "Stage to skip")
	skipCmd.Flags().StringVar(&skipDocument, "document", "", "Document to skip it for")
	skipCmd.Flags().StringVar(&skipReason, "reason", "skipped by operator", "Reason recorded with the skip")
	_ = skipCmd.MarkFlagRequired("stage")
	_ = skipCmd.MarkFlagRequired("document")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(skipCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	if orchestrator == nil {
		return errors.New("orchestrator not configured")
	}

	summary, err := orchestrator.Process(cmd.Context(), domain.ProcessOptions{
		Stage:      processStage,
		DocumentID: processDocument,
	})
	if summary != nil {
		printRunSummary(cmd, summary)
	}
	if processMetricsFile != "" && metricsWriter != nil {
		if werr := metricsWriter.WriteTextfile(processMetricsFile); werr != nil {
			cmd.PrintErrf("Warning: writing metrics: %v\n", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	failures := summary.Failures
	if processDocument != "" {
		failures = failures[:0:0]
		for _, f := range summary.Failures {
			if f.DocumentID == processDocument {
				failures = append(failures, f)
			}
		}
	}
	if len(failures) > 0 {
		return &ExitError{
			Code: ExitFailed,
			Err:  fmt.Errorf("%d stage(s) failed; run 'debatepipe status' for details", len(failures)),
		}
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, s *domain.RunSummary) {
	elapsed := s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)
	if s.FinishedAt.IsZero() {
		elapsed = 0
	}
	cmd.Printf("Run %s: %d executed, %d done, %d retried, %d failed", s.RunID, s.Executed, s.Succeeded, s.Retried, s.Failed)
	if s.Recovered > 0 {
		cmd.Printf(", %d recovered", s.Recovered)
	}
	cmd.Printf(" (%s)\n", elapsed)

	for _, f := range s.Failures {
		cmd.Printf("  FAILED %s/%s after %d attempt(s): %s\n", f.DocumentID, f.Stage, f.Attempts, f.Reason)
	}
}

func runRetry(cmd *cobra.Command, _ []string) error {
	if orchestrator == nil {
		return errors.New("orchestrator not configured")
	}
	n, err := orchestrator.Requeue(cmd.Context(), domain.RequeueFilter{
		Stage:      retryStage,
		DocumentID: retryDocument,
	})
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	cmd.Printf("Reset %d failed stage(s) to pending.\n", n)
	return nil
}

func runSkip(cmd *cobra.Command, _ []string) error {
	if orchestrator == nil {
		return errors.New("orchestrator not configured")
	}
	key := domain.StageKey{DocumentID: skipDocument, Stage: skipStage}
	if err := orchestrator.Skip(cmd.Context(), key, skipReason); err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	cmd.Printf("Skipped %s for %s.\n", skipStage, skipDocument)
	return nil
}
