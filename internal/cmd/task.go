package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit, inspect and cancel tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task",
	Long: `Submit a task to the coordinator.

The task reserves --amount units of --resource for its lifetime and is
dispatched to a worker advertising every --capability once a quorum of
validators approves.

Examples:
  quorum task submit --resource gpu-pool --amount 2 --priority high
  quorum task submit --resource cpu-pool --amount 1 --type render --payload '{"frame": 7}'
  quorum task submit --resource cpu-pool --amount 1 --payload-file job.json --wait 1m`,
	Args: cobra.NoArgs,
	RunE: runTaskSubmit,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStatus,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Long: `Cancel a task. Pending tasks are cancelled immediately; dispatched
tasks move to cancel_requested until the worker confirms or the cancel
timeout passes.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskCancel,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskAuditCmd = &cobra.Command{
	Use:   "audit <task-id>",
	Short: "Show the recorded decisions for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAudit,
}

var (
	submitID           string
	submitType         string
	submitPriority     string
	submitResource     string
	submitAmount       uint64
	submitCapabilities []string
	submitPayload      string
	submitPayloadFile  string
	submitProofType    string
	submitProofData    string
	submitMaxRetries   int
	submitWait         time.Duration

	listStatus string
)

// waitPollInterval is how often --wait polls the task.
const waitPollInterval = 250 * time.Millisecond

func init() {
	f := taskSubmitCmd.Flags()
	f.StringVar(&submitID, "id", "", "task ID (generated when empty)")
	f.StringVar(&submitType, "type", "", "task type")
	f.StringVarP(&submitPriority, "priority", "p", "normal", "priority: low, normal, high, critical")
	f.StringVarP(&submitResource, "resource", "r", "", "resource to reserve from")
	f.Uint64VarP(&submitAmount, "amount", "a", 1, "units to reserve")
	f.StringSliceVar(&submitCapabilities, "capability", nil, "required worker capability or glob (repeatable)")
	f.StringVar(&submitPayload, "payload", "", "JSON payload")
	f.StringVar(&submitPayloadFile, "payload-file", "", "read the JSON payload from a file ('-' for stdin)")
	f.StringVar(&submitProofType, "proof-type", "", "proof type: work, stake, computation, storage")
	f.StringVar(&submitProofData, "proof-data", "", "proof data")
	f.IntVar(&submitMaxRetries, "max-retries", 0, "retry limit (default from queue.max_retries)")
	f.DurationVar(&submitWait, "wait", 0, "wait up to this long for the task to finish")
	_ = taskSubmitCmd.MarkFlagRequired("resource")

	taskListCmd.Flags().StringVar(&listStatus, "status", "", "only list tasks in this status")

	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskAuditCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd.InOrStdin())
	if err != nil {
		return err
	}
	req := api.SubmitTaskRequest{
		ID:       submitID,
		Type:     submitType,
		Priority: submitPriority,
		Payload:  payload,
		Requirements: task.Requirements{
			Capabilities: submitCapabilities,
			ResourceID:   submitResource,
			Amount:       submitAmount,
		},
		MaxRetries: submitMaxRetries,
	}
	if submitProofType != "" || submitProofData != "" {
		req.Proof = &task.Proof{Type: task.ProofType(submitProofType), Data: submitProofData}
	}

	client := newClient()
	id, err := client.SubmitTask(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	if submitWait <= 0 {
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), api.SubmitTaskResponse{ID: id, Status: task.StatusPending})
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	t, err := waitForTask(cmd, client, id, submitWait)
	if err != nil {
		return err
	}
	return printTask(cmd.OutOrStdout(), t)
}

func readPayload(stdin io.Reader) (json.RawMessage, error) {
	var data []byte
	switch {
	case submitPayload != "" && submitPayloadFile != "":
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	case submitPayload != "":
		data = []byte(submitPayload)
	case submitPayloadFile == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		data = b
	case submitPayloadFile != "":
		b, err := os.ReadFile(submitPayloadFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		data = b
	default:
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// waitForTask polls until the task reaches a terminal status or timeout passes.
func waitForTask(cmd *cobra.Command, client *api.Client, id string, timeout time.Duration) (task.Task, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		t, err := client.GetTask(cmd.Context(), id)
		if err != nil {
			return task.Task{}, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			return t, fmt.Errorf("task %s still %s after %s", id, t.Status, timeout)
		}
		select {
		case <-cmd.Context().Done():
			return t, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	t, err := newClient().GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTask(cmd.OutOrStdout(), t)
}

func printTask(w io.Writer, t task.Task) error {
	if outputJSON {
		return printJSON(w, t)
	}

	fields := [][2]string{
		{"ID", t.ID},
		{"Status", renderTaskStatus(t.Status)},
		{"Priority", t.Priority.String()},
	}
	if t.Type != "" {
		fields = append(fields, [2]string{"Type", t.Type})
	}
	fields = append(fields,
		[2]string{"Resource", fmt.Sprintf("%s x%d", t.Requirements.ResourceID, t.Requirements.Amount)},
		[2]string{"Retries", fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries)},
	)
	if t.AssignedWorker != "" {
		fields = append(fields, [2]string{"Worker", t.AssignedWorker})
	}
	if t.Failure != nil {
		fields = append(fields, [2]string{"Failure", fmt.Sprintf("%s: %s", t.Failure.Code, t.Failure.Message)})
	}
	if t.Result != nil {
		fields = append(fields, [2]string{"Duration", t.Result.Duration.String()})
		if len(t.Result.Data) > 0 {
			fields = append(fields, [2]string{"Result", string(t.Result.Data)})
		}
	}
	fields = append(fields,
		[2]string{"Created", t.CreatedAt.Format(time.DateTime)},
		[2]string{"Updated", t.UpdatedAt.Format(time.DateTime)},
	)
	printFields(w, fields)
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	status, err := newClient().CancelTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), api.SubmitTaskResponse{ID: args[0], Status: status})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], renderTaskStatus(status))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := newClient().ListTasks(cmd.Context(), task.Status(listStatus))
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			renderTaskStatus(t.Status),
			t.Priority.String(),
			t.Requirements.ResourceID,
			strconv.FormatUint(t.Requirements.Amount, 10),
			t.AssignedWorker,
			t.Type,
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "STATUS", "PRIORITY", "RESOURCE", "AMOUNT", "WORKER", "TYPE"}, rows)
	return nil
}

func runTaskAudit(cmd *cobra.Command, args []string) error {
	decisions, err := newClient().TaskAudit(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), decisions)
	}
	printDecisions(cmd.OutOrStdout(), decisions)
	return nil
}

func printDecisions(w io.Writer, decisions []audit.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "No recorded decisions")
		return
	}
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, []string{
			d.Timestamp.Format(time.DateTime),
			d.Action,
			d.Outcome,
			d.Details,
		})
	}
	printTable(w, []string{"TIME", "ACTION", "OUTCOME", "DETAILS"}, rows)
}
