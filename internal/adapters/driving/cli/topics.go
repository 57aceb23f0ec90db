package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List topic clusters",
	Args:  cobra.NoArgs,
	RunE:  runTopics,
}

var topicsReclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Recompute topic clusters over all documents",
	Long: `Recomputes clusters from every stored document embedding. Cluster ids
are kept where memberships overlap, so labels stay attached to the same
topics. Only documents whose cluster changed get a new topic artefact.`,
	Args: cobra.NoArgs,
	RunE: runTopicsRecluster,
}

var topicsLabelCmd = &cobra.Command{
	Use:   "label <cluster-id> <label>",
	Short: "Rename a topic cluster",
	Long: `Sets a human-readable label on a cluster. Words after the id are joined,
so quoting the label is optional. The label survives re-clustering while
the cluster keeps its id.`,
	Example: `  debatepipe topics label 3 farm subsidies`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runTopicsLabel,
}

func init() {
	topicsCmd.AddCommand(topicsReclusterCmd)
	topicsCmd.AddCommand(topicsLabelCmd)
	rootCmd.AddCommand(topicsCmd)
}

func runTopics(cmd *cobra.Command, _ []string) error {
	if topicService == nil {
		return errors.New("topic service not configured")
	}

	clusters, err := topicService.Clusters(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}
	if len(clusters) == 0 {
		cmd.Println("No topic clusters yet.")
		return nil
	}

	t := newTable("ID", "LABEL", "DOCUMENTS", "UPDATED")
	for _, c := range clusters {
		t.Row(strconv.Itoa(c.ID), c.Label, strconv.Itoa(c.Size), c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	cmd.Println(t.Render())
	return nil
}

func runTopicsRecluster(cmd *cobra.Command, _ []string) error {
	if topicService == nil {
		return errors.New("topic service not configured")
	}

	report, err := topicService.Recluster(cmd.Context())
	if err != nil {
		return fmt.Errorf("recluster: %w", err)
	}
	cmd.Printf("Clustered %d document(s) into %d cluster(s); %d reassigned.\n",
		report.Documents, report.Clusters, report.Reassigned)
	if len(report.NewClusters) > 0 {
		cmd.Printf("New clusters: %v\n", report.NewClusters)
	}
	return nil
}

func runTopicsLabel(cmd *cobra.Command, args []string) error {
	if topicService == nil {
		return errors.New("topic service not configured")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid cluster id %q", args[0])
	}
	c, err := topicService.Label(cmd.Context(), id, strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("label cluster: %w", err)
	}
	cmd.Printf("Cluster %d (%d document(s)) is now %q.\n", c.ID, c.Size, c.Label)
	return nil
}
