package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Inspect and add ledger resources",
}

var resourceShowCmd = &cobra.Command{
	Use:   "show <resource-id>",
	Short: "Show a resource's capacity and availability",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceShow,
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	Args:  cobra.NoArgs,
	RunE:  runResourceList,
}

var resourceAddCmd = &cobra.Command{
	Use:   "add <resource-id>",
	Short: "Add a resource to the ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceAdd,
}

var (
	resourceType     string
	resourceCapacity uint64
)

// usageBarWidth is the width of the reservation bar in resource output.
const usageBarWidth = 20

func init() {
	resourceAddCmd.Flags().StringVarP(&resourceType, "type", "t", "", "resource type: cpu, memory, gpu, storage")
	resourceAddCmd.Flags().Uint64Var(&resourceCapacity, "capacity", 0, "total units")
	_ = resourceAddCmd.MarkFlagRequired("type")
	_ = resourceAddCmd.MarkFlagRequired("capacity")

	resourceCmd.AddCommand(resourceShowCmd)
	resourceCmd.AddCommand(resourceListCmd)
	resourceCmd.AddCommand(resourceAddCmd)
	rootCmd.AddCommand(resourceCmd)
}

func runResourceShow(cmd *cobra.Command, args []string) error {
	res, err := newClient().Resource(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printResource(cmd.OutOrStdout(), res)
	return nil
}

func printResource(w io.Writer, res ledger.Resource) {
	printFields(w, [][2]string{
		{"ID", res.ID},
		{"Type", string(res.Type)},
		{"Capacity", strconv.FormatUint(res.Capacity, 10)},
		{"Available", strconv.FormatUint(res.Available, 10)},
		{"Reserved", usageBar(res)},
	})
}

// usageBar draws reserved units as a bar, e.g. "██████░░░░ 6/10".
func usageBar(res ledger.Resource) string {
	reserved := res.Capacity - res.Available
	filled := 0
	if res.Capacity > 0 {
		filled = int(reserved * usageBarWidth / res.Capacity)
	}
	color := greenColor
	switch {
	case res.Available == 0 && res.Capacity > 0:
		color = redColor
	case filled*4 >= usageBarWidth*3:
		color = amberColor
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		labelStyle.Render(strings.Repeat("░", usageBarWidth-filled))
	return fmt.Sprintf("%s %d/%d", bar, reserved, res.Capacity)
}

func runResourceList(cmd *cobra.Command, args []string) error {
	resources, err := newClient().Resources(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resources)
	}
	if len(resources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No resources registered")
		return nil
	}
	rows := make([][]string, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, []string{r.ID, string(r.Type), usageBar(r)})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "TYPE", "RESERVED"}, rows)
	return nil
}

func runResourceAdd(cmd *cobra.Command, args []string) error {
	err := newClient().RegisterResource(cmd.Context(), api.RegisterResourceRequest{
		ID:       args[0],
		Type:     task.ResourceType(strings.ToLower(resourceType)),
		Capacity: resourceCapacity,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added resource %s (%s, capacity %d)\n", args[0], resourceType, resourceCapacity)
	return nil
}
