package cmd

import (
	"fmt"
	"strconv"

	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth per priority band",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	q, err := newClient().Queue(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), q)
	}

	rows := make([][]string, 0, len(q.Bands))
	for _, p := range task.Priorities() {
		rows = append(rows, []string{p.String(), strconv.Itoa(q.Bands[p.String()])})
	}
	printTable(cmd.OutOrStdout(), []string{"PRIORITY", "PENDING"}, rows)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", labelStyle.Render("Total:"), q.Depth)
	return nil
}
