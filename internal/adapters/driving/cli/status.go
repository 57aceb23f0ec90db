package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	statusDocument string
	statusOutput   string

	conflictsLimit  int
	conflictsOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long: `Shows per-stage counts of pending, running, done, failed and skipped
documents, followed by every failed pair with its reason.

With --document, shows the stage states of one document instead.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List identity conflicts found during sync",
	Long: `Lists items that claimed a known portal id but did not look like the
stored document. Such items are never merged automatically.`,
	Args: cobra.NoArgs,
	RunE: runConflicts,
}

func init() {
	statusCmd.Flags().StringVarP(&statusDocument, "document", "d", "", "Show one document")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputTable, "Output format: table, json or yaml")

	conflictsCmd.Flags().IntVarP(&conflictsLimit, "limit", "n", 50, "Maximum number of conflicts")
	conflictsCmd.Flags().StringVarP(&conflictsOutput, "output", "o", outputTable, "Output format: table, json or yaml")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusService == nil {
		return errors.New("status service not configured")
	}
	if err := checkOutput(statusOutput); err != nil {
		return err
	}

	if statusDocument != "" {
		doc, err := statusService.Document(cmd.Context(), statusDocument)
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		return printDocument(cmd, doc)
	}

	report, err := statusService.Report(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return printStatus(cmd, report)
}

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("%w: unknown output format %q", domain.ErrInvalidInput, format)
}

// encode writes v as json or yaml. It reports false for table output.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func printStatus(cmd *cobra.Command, report *driving.StatusReport) error {
	if done, err := encode(cmd.OutOrStdout(), statusOutput, report); done {
		return err
	}

	cmd.Printf("%d document(s)\n\n", report.Documents)
	if len(report.Stages) > 0 {
		t := newTable("STAGE", "PENDING", "RUNNING", "DONE", "FAILED", "SKIPPED")
		for _, s := range report.Stages {
			t.Row(s.Stage,
				strconv.Itoa(s.Pending),
				strconv.Itoa(s.Running),
				strconv.Itoa(s.Done),
				statusStyle(failedOrPlain(s.Failed)).Render(strconv.Itoa(s.Failed)),
				strconv.Itoa(s.Skipped))
		}
		cmd.Println(t.Render())
	}

	if len(report.Failures) > 0 {
		cmd.Println()
		cmd.Println("Failed:")
		t := newTable("DOCUMENT", "STAGE", "ATTEMPTS", "REASON")
		for _, f := range report.Failures {
			t.Row(f.DocumentID, f.Stage, strconv.Itoa(f.Attempts), f.Reason)
		}
		cmd.Println(t.Render())
	}

	if report.Conflicts > 0 {
		cmd.Printf("\n%d identity conflict(s); run 'debatepipe conflicts' to review.\n", report.Conflicts)
	}
	return nil
}

func failedOrPlain(n int) domain.StageStatus {
	if n > 0 {
		return domain.StatusFailed
	}
	return domain.StatusPending
}

type documentView struct {
	ID           string      `json:"id" yaml:"id"`
	PortalItemID string      `json:"portal_item_id,omitempty" yaml:"portal_item_id,omitempty"`
	Title        string      `json:"title,omitempty" yaml:"title,omitempty"`
	SourceURI    string      `json:"source_uri" yaml:"source_uri"`
	ContentHash  string      `json:"content_hash" yaml:"content_hash"`
	Version      int         `json:"version" yaml:"version"`
	Stages       []stageView `json:"stages" yaml:"stages"`
}

type stageView struct {
	Stage    string `json:"stage" yaml:"stage"`
	Status   string `json:"status" yaml:"status"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func printDocument(cmd *cobra.Command, doc *domain.Document) error {
	view := documentView{
		ID:           doc.ID,
		PortalItemID: doc.PortalItemID,
		Title:        doc.Title,
		SourceURI:    doc.SourceURI,
		ContentHash:  doc.ContentHash,
		Version:      doc.Version,
	}
	for _, s := range doc.Stages {
		view.Stages = append(view.Stages, stageView{
			Stage:    s.Stage,
			Status:   string(s.Status),
			Attempts: s.Attempts,
			Reason:   s.Reason,
		})
	}
	if done, err := encode(cmd.OutOrStdout(), statusOutput, view); done {
		return err
	}

	cmd.Printf("Document: %s\n", doc.ID)
	if doc.Title != "" {
		cmd.Printf("Title:    %s\n", doc.Title)
	}
	if doc.PortalItemID != "" {
		cmd.Printf("Portal:   %s\n", doc.PortalItemID)
	}
	cmd.Printf("Source:   %s\n", doc.SourceURI)
	cmd.Printf("Version:  %d\n\n", doc.Version)

	t := newTable("STAGE", "STATUS", "ATTEMPTS", "REASON")
	for _, s := range doc.Stages {
		t.Row(s.Stage, statusStyle(s.Status).Render(string(s.Status)), strconv.Itoa(s.Attempts), s.Reason)
	}
	cmd.Println(t.Render())
	return nil
}

type conflictView struct {
	DocumentID   string    `json:"document_id" yaml:"document_id"`
	ExistingURI  string    `json:"existing_uri" yaml:"existing_uri"`
	IncomingURI  string    `json:"incoming_uri" yaml:"incoming_uri"`
	ExistingHash string    `json:"existing_hash" yaml:"existing_hash"`
	IncomingHash string    `json:"incoming_hash" yaml:"incoming_hash"`
	ExistingSize int64     `json:"existing_size" yaml:"existing_size"`
	IncomingSize int64     `json:"incoming_size" yaml:"incoming_size"`
	DetectedAt   time.Time `json:"detected_at" yaml:"detected_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	if statusService == nil {
		return errors.New("status service not configured")
	}
	if err := checkOutput(conflictsOutput); err != nil {
		return err
	}

	conflicts, err := statusService.Conflicts(cmd.Context(), conflictsLimit)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	views := make([]conflictView, 0, len(conflicts))
	for _, c := range conflicts {
		views = append(views, conflictView{
			DocumentID:   c.DocumentID,
			ExistingURI:  c.ExistingURI,
			IncomingURI:  c.IncomingURI,
			ExistingHash: c.ExistingHash,
			IncomingHash: c.IncomingHash,
			ExistingSize: c.ExistingSize,
			IncomingSize: c.IncomingSize,
			DetectedAt:   c.DetectedAt,
		})
	}
	if done, err := encode(cmd.OutOrStdout(), conflictsOutput, views); done {
		return err
	}

	if len(views) == 0 {
		cmd.Println("No identity conflicts.")
		return nil
	}
	t := newTable("DOCUMENT", "EXISTING", "INCOMING", "SIZES", "DETECTED")
	for _, c := range views {
		t.Row(c.DocumentID, c.ExistingURI, c.IncomingURI,
			fmt.Sprintf("%d / %d", c.ExistingSize, c.IncomingSize),
			c.DetectedAt.Local().Format("2006-01-02 15:04"))
	}
	cmd.Println(t.Render())
	return nil
}
