package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Register workers and report their liveness",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	Args:  cobra.NoArgs,
	RunE:  runWorkerList,
}

var workerRegisterCmd = &cobra.Command{
	Use:   "register <worker-id>",
	Short: "Register a worker",
	Long: `Register a worker with the coordinator.

Examples:
  quorum worker register gpu-1 --capability render --capability 'encode.*' --capacity gpu=8
  quorum worker register cpu-1 --capacity cpu=32 --capacity memory=65536`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkerRegister,
}

var workerHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <worker-id>",
	Short: "Send a heartbeat for a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerHeartbeat,
}

var (
	workerCapabilities []string
	workerCapacity     map[string]string
	workerEndpoint     string
	heartbeatLoad      float64
)

func init() {
	workerRegisterCmd.Flags().StringSliceVar(&workerCapabilities, "capability", nil, "advertised capability (repeatable)")
	workerRegisterCmd.Flags().StringToStringVar(&workerCapacity, "capacity", nil, "capacity per resource type, e.g. gpu=8")
	workerRegisterCmd.Flags().StringVar(&workerEndpoint, "endpoint", "", "worker address")

	workerHeartbeatCmd.Flags().Float64Var(&heartbeatLoad, "load", 0, "current load in [0,1]")

	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerRegisterCmd)
	workerCmd.AddCommand(workerHeartbeatCmd)
	rootCmd.AddCommand(workerCmd)
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	workers, err := newClient().Workers(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), workers)
	}
	if len(workers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workers registered")
		return nil
	}

	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		seen := "never"
		if !w.LastHeartbeat.IsZero() {
			seen = time.Since(w.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		rows = append(rows, []string{
			w.ID,
			renderHealth(w.Health),
			strconv.FormatFloat(w.Load, 'f', 2, 64),
			fmt.Sprintf("%d/%d", w.Completed, w.Failed),
			seen,
			formatCapacity(w.Capacity),
			strings.Join(w.Capabilities, ","),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "HEALTH", "LOAD", "OK/FAILED", "HEARTBEAT", "CAPACITY", "CAPABILITIES"}, rows)
	return nil
}

func formatCapacity(c map[task.ResourceType]uint64) string {
	parts := make([]string, 0, len(c))
	for rt, n := range c {
		parts = append(parts, fmt.Sprintf("%s=%d", rt, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func parseCapacity(in map[string]string) (map[task.ResourceType]uint64, error) {
	out := make(map[task.ResourceType]uint64, len(in))
	for k, v := range in {
		rt := task.ResourceType(strings.ToLower(k))
		if !rt.Valid() {
			return nil, fmt.Errorf("unknown resource type %q", k)
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("capacity for %s: %w", k, err)
		}
		out[rt] = n
	}
	return out, nil
}

func runWorkerRegister(cmd *cobra.Command, args []string) error {
	capacity, err := parseCapacity(workerCapacity)
	if err != nil {
		return err
	}
	err = newClient().RegisterWorker(cmd.Context(), api.RegisterWorkerRequest{
		ID:           args[0],
		Capabilities: workerCapabilities,
		Capacity:     capacity,
		Endpoint:     workerEndpoint,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered worker %s\n", args[0])
	return nil
}

func runWorkerHeartbeat(cmd *cobra.Command, args []string) error {
	var load *float64
	if cmd.Flags().Changed("load") {
		load = &heartbeatLoad
	}
	if err := newClient().Heartbeat(cmd.Context(), args[0], load); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Heartbeat sent for %s\n", args[0])
	return nil
}
