package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shelver/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				stats, err := client.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printTable(out, []string{"Status", "Count"}, buildQueueStatusRows(stats.Counts),
					[]columnAlignment{alignLeft, alignRight}, "Queue is empty")
				if stats.Retrying > 0 {
					fmt.Fprintf(out, "%d pending task(s) are waiting for a retry\n", stats.Retrying)
				}
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var taskType string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				tasks, err := client.Tasks(cmd.Context(), statuses, taskType, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tasks)
				}
				printTable(cmd.OutOrStdout(),
					[]string{"ID", "Type", "Status", "Attempts", "Priority", "Created", "Error"},
					buildTaskRows(tasks),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
					"Queue is empty")
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Filter by task type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tasks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func buildTaskRows(tasks []api.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.Type,
			task.Status,
			fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts),
			strconv.Itoa(task.Priority),
			orDash(task.CreatedAt),
			truncate(task.ErrorMessage, 60),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit || limit < 4 {
		return value
	}
	return value[:limit-3] + "..."
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				task, err := client.Task(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, task)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDetail([][2]string{
					{"ID", strconv.FormatInt(task.ID, 10)},
					{"Type", task.Type},
					{"Status", task.Status},
					{"Attempts", fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts)},
					{"Priority", strconv.Itoa(task.Priority)},
					{"Source", orDash(task.Source)},
					{"Next retry", orDash(task.NextRetryAt)},
					{"Created", orDash(task.CreatedAt)},
					{"Started", orDash(task.StartedAt)},
					{"Completed", orDash(task.CompletedAt)},
					{"Error", orDash(task.ErrorMessage)},
					{"Payload", orDash(string(task.Payload))},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel pending tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args, "task id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				for _, id := range ids {
					if err := client.CancelTask(cmd.Context(), id); err != nil {
						return fmt.Errorf("cancel task %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Task %d cancelled\n", id)
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Retry failed tasks (all failed tasks when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args, "task id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				n, err := client.RetryTasks(cmd.Context(), ids)
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed tasks to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d task(s)\n", n)
				return nil
			})
		},
	}
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var payload string
	var priority int
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Queue a task with a raw JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(strings.TrimSpace(payload))
			if len(raw) > 0 && !json.Valid(raw) {
				return fmt.Errorf("payload is not valid JSON")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Enqueue(cmd.Context(), api.EnqueueRequest{
					Type:        args[0],
					Payload:     raw,
					Priority:    priority,
					MaxAttempts: maxAttempts,
					Source:      "cli",
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %d\n", resp.TaskID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "JSON payload")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority; higher runs first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt budget (defaults to queue.default_max_attempts)")
	return cmd
}
