package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show coordinator statistics",
	Long: `Display counters for the running coordinator.

Shows:
- Tasks submitted, completed, failed, cancelled
- Requeues and dead-lettered tasks
- Average execution time
- Queue depth and tasks in flight`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := newClient().Stats(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, titleStyle.Render("TASKS"))
	printFields(w, [][2]string{
		{"Submitted", strconv.FormatUint(stats.Submitted, 10)},
		{"Completed", strconv.FormatUint(stats.Completed, 10)},
		{"Failed", strconv.FormatUint(stats.Failed, 10)},
		{"Cancelled", strconv.FormatUint(stats.Cancelled, 10)},
		{"Requeued", strconv.FormatUint(stats.Requeued, 10)},
		{"Dead-lettered", strconv.FormatUint(stats.DeadLettered, 10)},
	})
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("ACTIVITY"))
	printFields(w, [][2]string{
		{"Queue depth", strconv.Itoa(stats.QueueDepth)},
		{"In flight", strconv.Itoa(stats.InFlight)},
		{"Avg execution", stats.AverageExecutionTime().String()},
	})
	return nil
}
