package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync, processing and cleanup on a schedule",
	Long: `Runs in the foreground until interrupted, syncing documents, running
processing passes and collecting superseded artefacts at the intervals
set under [scheduler] in the config file.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}

	logger.Info("daemon started (sources: %s)", strings.Join(sources, ", "))
	err := scheduler.Start(cmd.Context())
	if stopErr := scheduler.Stop(); err == nil {
		err = stopErr
	}
	logger.Info("daemon stopped")
	return err
}
