package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

var (
	syncSource string
	syncLimit  int
	syncWatch  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull debate documents from a source",
	Long: `Fetches documents from a scraper and records them in the state store.

Each item is matched to a stable document identity: the portal item id
when known, otherwise the hash of its bytes. Items whose bytes changed
are recorded as revisions and reprocessed; items that claim a known id
but look like a different document are reported as identity conflicts.

With --watch the inbox is watched for new files until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncSource, "source", "s", "", "Scraper to use (inbox or portal)")
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "n", 0, "Maximum number of items (0 for no limit)")
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "Keep watching for new files")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	if syncService == nil {
		return errors.New("sync service not configured")
	}
	if syncLimit < 0 {
		return fmt.Errorf("%w: --limit must not be negative", domain.ErrInvalidInput)
	}
	opts := driving.SyncOptions{Source: syncSource, Limit: syncLimit}

	if syncWatch {
		cmd.Println("Watching for new documents (Ctrl+C to stop)...")
		report, err := syncService.Watch(cmd.Context(), opts, func(ev driving.SyncEvent) {
			printSyncEvent(cmd, ev)
		})
		printSyncReport(cmd, report)
		return err
	}

	started := time.Now()
	report, err := syncService.Sync(cmd.Context(), opts)
	printSyncReport(cmd, report)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	cmd.Printf("Sync finished in %s.\n", time.Since(started).Round(time.Millisecond))
	return nil
}

func printSyncEvent(cmd *cobra.Command, ev driving.SyncEvent) {
	switch {
	case ev.Err != nil:
		cmd.Printf("  ! %s: %v\n", ev.SourceURI, ev.Err)
	case ev.Resolution == nil:
	case ev.Resolution.IsNew:
		cmd.Printf("  + %s  %s\n", ev.Resolution.DocumentID, ev.SourceURI)
	case ev.Resolution.Revised:
		cmd.Printf("  ~ %s  %s (version %d)\n", ev.Resolution.DocumentID, ev.SourceURI, ev.Resolution.Version)
	}
}

func printSyncReport(cmd *cobra.Command, r *driving.SyncReport) {
	if r == nil {
		return
	}
	parts := []string{
		fmt.Sprintf("%d scanned", r.Scanned),
		fmt.Sprintf("%d new", r.New),
		fmt.Sprintf("%d revised", r.Revised),
		fmt.Sprintf("%d unchanged", r.Unchanged),
	}
	if r.Conflicts > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts (see 'debatepipe conflicts')", r.Conflicts))
	}
	if r.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", r.Errors))
	}
	cmd.Println(strings.Join(parts, ", "))
}
