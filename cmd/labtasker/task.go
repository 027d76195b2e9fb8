package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labtasker/labtasker/pkg/sdk"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new task",
	Long: `Submit a new task to the queue. Either --args or --cmd is required.

Examples:
  # Submit a task with structured arguments
  labtasker task submit --name train --args '{"model":"resnet","lr":0.1}' --priority 10

  # Submit a shell command task
  labtasker task submit --cmd 'python train.py --epochs 50'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &sdk.SubmitTaskRequest{}
		req.TaskName, _ = cmd.Flags().GetString("name")
		req.Cmd, _ = cmd.Flags().GetString("cmd")

		rawArgs, _ := cmd.Flags().GetString("args")
		taskArgs, err := parseJSONMap(rawArgs, "args")
		if err != nil {
			return err
		}
		req.Args = taskArgs

		rawMetadata, _ := cmd.Flags().GetString("metadata")
		metadata, err := parseJSONMap(rawMetadata, "metadata")
		if err != nil {
			return err
		}
		req.Metadata = metadata

		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetInt("priority")
			req.Priority = &priority
		}
		if cmd.Flags().Changed("max-retries") {
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			req.MaxRetries = &maxRetries
		}
		if cmd.Flags().Changed("heartbeat-timeout") {
			heartbeatTimeout, _ := cmd.Flags().GetFloat64("heartbeat-timeout")
			req.HeartbeatTimeout = &heartbeatTimeout
		}
		if cmd.Flags().Changed("task-timeout") {
			taskTimeout, _ := cmd.Flags().GetInt64("task-timeout")
			req.TaskTimeout = &taskTimeout
		}

		task, err := newClient().Tasks.Submit(cmd.Context(), req)
		if err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			fmt.Println(task.TaskID)
			return nil
		}
		return printResult(task)
	},
}

var taskLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	Long: `List tasks in the queue.

The --extra-filter flag accepts a native filter document or a
Python-style expression:

  labtasker task ls --extra-filter '{"status":"pending"}'
  labtasker task ls --extra-filter 'priority >= 10 and args.model == "resnet"'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("extra-filter")
		extraFilter, err := parseExtraFilter(rawFilter)
		if err != nil {
			return err
		}

		opts := &sdk.ListTasksOptions{ExtraFilter: extraFilter}
		opts.TaskName, _ = cmd.Flags().GetString("name")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")

		tasks, _, err := newClient().Tasks.List(cmd.Context(), opts)
		if err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			for i := range tasks {
				fmt.Println(tasks[i].TaskID)
			}
			return nil
		}
		return printResult(tasks)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get TASK_ID",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := newClient().Tasks.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update TASK_ID",
	Short: "Update task fields or requeue a finished task",
	Long: `Update caller-editable task fields. Unless --reset-pending=false,
a finished task is requeued with a fresh retry budget.

Examples:
  # Requeue a failed task
  labtasker task update TASK_ID

  # Raise priority without touching the task state
  labtasker task update TASK_ID --update '{"priority":50}' --reset-pending=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawUpdate, _ := cmd.Flags().GetString("update")
		update, err := parseJSONMap(rawUpdate, "update")
		if err != nil {
			return err
		}

		resetPending, _ := cmd.Flags().GetBool("reset-pending")
		task, err := newClient().Tasks.Update(cmd.Context(), args[0], &sdk.UpdateTaskRequest{
			Update:       update,
			ResetPending: &resetPending,
		})
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel TASK_ID",
	Short: "Cancel a pending or running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := newClient().Tasks.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete TASK_ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm(cmd, fmt.Sprintf("Delete task %s", args[0])) {
			return fmt.Errorf("aborted")
		}
		if err := newClient().Tasks.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

var taskReportCmd = &cobra.Command{
	Use:   "report TASK_ID STATUS",
	Short: "Report a task outcome: success, failed or cancelled",
	Long: `Report a task outcome on behalf of the worker holding it.

Examples:
  labtasker task report TASK_ID success --summary '{"accuracy":0.93}'
  labtasker task report TASK_ID failed --worker WORKER_ID`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawSummary, _ := cmd.Flags().GetString("summary")
		summary, err := parseJSONMap(rawSummary, "summary")
		if err != nil {
			return err
		}

		req := &sdk.ReportTaskStatusRequest{Status: args[1], Summary: summary}
		if cmd.Flags().Changed("worker") {
			workerID, _ := cmd.Flags().GetString("worker")
			req.WorkerID = &workerID
		}

		task, err := newClient().Tasks.Report(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

func init() {
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskLsCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskReportCmd)

	taskSubmitCmd.Flags().String("name", "", "Task name")
	taskSubmitCmd.Flags().String("args", "", "Task arguments as a JSON object")
	taskSubmitCmd.Flags().String("cmd", "", "Shell command to run")
	taskSubmitCmd.Flags().String("metadata", "", "Task metadata as a JSON object")
	taskSubmitCmd.Flags().Int("priority", 0, "Task priority, higher first")
	taskSubmitCmd.Flags().Int("max-retries", 0, "Retry budget before the task fails for good")
	taskSubmitCmd.Flags().Float64("heartbeat-timeout", 0, "Heartbeat timeout in seconds")
	taskSubmitCmd.Flags().Int64("task-timeout", 0, "Execution timeout in seconds")
	taskSubmitCmd.Flags().BoolP("quiet", "q", false, "Print only the task id")

	taskLsCmd.Flags().String("name", "", "Filter by task name")
	taskLsCmd.Flags().String("extra-filter", "", "Filter document or expression")
	taskLsCmd.Flags().Int("limit", 0, "Page size (server default 100)")
	taskLsCmd.Flags().Int("offset", 0, "Page offset")
	taskLsCmd.Flags().BoolP("quiet", "q", false, "Print only task ids")

	taskUpdateCmd.Flags().String("update", "", "Fields to rewrite, as a JSON object")
	taskUpdateCmd.Flags().Bool("reset-pending", true, "Requeue a finished task with a fresh retry budget")

	taskDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	taskReportCmd.Flags().String("summary", "", "Outcome summary as a JSON object")
	taskReportCmd.Flags().String("worker", "", "Worker id the report is made for")

	rootCmd.AddCommand(taskCmd)
}
