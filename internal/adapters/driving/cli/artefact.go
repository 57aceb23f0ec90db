package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

var (
	artefactStage string
	artefactHash  string

	gcOlderThan time.Duration
)

var artefactCmd = &cobra.Command{
	Use:   "artefact",
	Short: "Inspect cached stage outputs",
}

var artefactListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List current artefacts of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtefactList,
}

var artefactGetCmd = &cobra.Command{
	Use:   "get <document-id> <stage> <unit>",
	Short: "Write one artefact's bytes to stdout",
	Long: `Writes the current bytes of one unit output to stdout. With --hash, the
superseded version with that content hash is written instead, if it has
not been collected yet.`,
	Args: cobra.ExactArgs(3),
	RunE: runArtefactGet,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete superseded artefacts",
	Long: `Deletes artefact versions that were superseded longer than --older-than
ago. Current artefacts are never deleted.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	artefactListCmd.Flags().StringVar(&artefactStage, "stage", "", "Only list this stage")
	artefactGetCmd.Flags().StringVar(&artefactHash, "hash", "", "Content hash of a superseded version")
	artefactCmd.AddCommand(artefactListCmd)
	artefactCmd.AddCommand(artefactGetCmd)

	gcCmd.Flags().DurationVar(&gcOlderThan, "older-than", 7*24*time.Hour, "Minimum age since superseded")

	rootCmd.AddCommand(artefactCmd)
	rootCmd.AddCommand(gcCmd)
}

func runArtefactList(cmd *cobra.Command, args []string) error {
	if artefactService == nil {
		return errors.New("artefact service not configured")
	}

	artefacts, err := artefactService.List(cmd.Context(), args[0], artefactStage)
	if err != nil {
		return fmt.Errorf("failed to list artefacts: %w", err)
	}
	if len(artefacts) == 0 {
		cmd.Println("No artefacts.")
		return nil
	}

	t := newTable("STAGE", "UNIT", "VERSION", "SIZE", "HASH", "CREATED")
	for _, a := range artefacts {
		t.Row(a.Key.Stage,
			strconv.Itoa(a.Key.Unit),
			strconv.Itoa(a.Version),
			strconv.FormatInt(a.Size, 10),
			shortHash(a.ContentHash),
			a.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	cmd.Println(t.Render())
	return nil
}

func runArtefactGet(cmd *cobra.Command, args []string) error {
	if artefactService == nil {
		return errors.New("artefact service not configured")
	}
	unit, err := strconv.Atoi(args[2])
	if err != nil || unit < 0 {
		return fmt.Errorf("%w: unit must be a non-negative integer, got %q", domain.ErrInvalidInput, args[2])
	}

	key := domain.ArtefactKey{DocumentID: args[0], Stage: args[1], Unit: unit}
	data, _, err := artefactService.Read(cmd.Context(), key, artefactHash)
	if err != nil {
		return fmt.Errorf("failed to read artefact %s: %w", key, err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runGC(cmd *cobra.Command, _ []string) error {
	if artefactService == nil {
		return errors.New("artefact service not configured")
	}
	n, err := artefactService.Prune(cmd.Context(), gcOlderThan)
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	cmd.Printf("Deleted %d superseded artefact(s).\n", n)
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
