package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labtasker/labtasker/pkg/sdk"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new worker",
	Long: `Register a new worker. All flags are optional; an anonymous worker
gets a generated id and the default retry budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &sdk.CreateWorkerRequest{}
		req.WorkerName, _ = cmd.Flags().GetString("name")

		rawMetadata, _ := cmd.Flags().GetString("metadata")
		metadata, err := parseJSONMap(rawMetadata, "metadata")
		if err != nil {
			return err
		}
		req.Metadata = metadata

		if cmd.Flags().Changed("max-retries") {
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			req.MaxRetries = &maxRetries
		}

		worker, err := newClient().Workers.Create(cmd.Context(), req)
		if err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			fmt.Println(worker.WorkerID)
			return nil
		}
		return printResult(worker)
	},
}

var workerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("extra-filter")
		extraFilter, err := parseExtraFilter(rawFilter)
		if err != nil {
			return err
		}

		opts := &sdk.ListWorkersOptions{ExtraFilter: extraFilter}
		opts.WorkerName, _ = cmd.Flags().GetString("name")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")

		workers, _, err := newClient().Workers.List(cmd.Context(), opts)
		if err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			for i := range workers {
				fmt.Println(workers[i].WorkerID)
			}
			return nil
		}
		return printResult(workers)
	},
}

var workerGetCmd = &cobra.Command{
	Use:   "get WORKER_ID",
	Short: "Show a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := newClient().Workers.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(worker)
	},
}

var workerReportCmd = &cobra.Command{
	Use:   "report WORKER_ID STATUS",
	Short: "Report a worker state change: active, suspended or failed",
	Long: `Report a worker state change. Reporting active resets the crash
counter and revives a suspended or crashed worker.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := newClient().Workers.Report(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(worker)
	},
}

var workerDeleteCmd = &cobra.Command{
	Use:   "delete WORKER_ID",
	Short: "Delete a worker",
	Long: `Delete a worker. Unless --cascade-update=false, tasks held by the
worker lose their assignment and are reclaimed by the timeout sweeper.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm(cmd, fmt.Sprintf("Delete worker %s", args[0])) {
			return fmt.Errorf("aborted")
		}

		cascadeUpdate, _ := cmd.Flags().GetBool("cascade-update")
		if err := newClient().Workers.Delete(cmd.Context(), args[0], cascadeUpdate); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerCreateCmd)
	workerCmd.AddCommand(workerLsCmd)
	workerCmd.AddCommand(workerGetCmd)
	workerCmd.AddCommand(workerReportCmd)
	workerCmd.AddCommand(workerDeleteCmd)

	workerCreateCmd.Flags().String("name", "", "Worker name")
	workerCreateCmd.Flags().String("metadata", "", "Worker metadata as a JSON object")
	workerCreateCmd.Flags().Int("max-retries", 0, "Crashes tolerated before the worker is marked failed")
	workerCreateCmd.Flags().BoolP("quiet", "q", false, "Print only the worker id")

	workerLsCmd.Flags().String("name", "", "Filter by worker name")
	workerLsCmd.Flags().String("extra-filter", "", "Filter document or expression")
	workerLsCmd.Flags().Int("limit", 0, "Page size (server default 100)")
	workerLsCmd.Flags().Int("offset", 0, "Page offset")
	workerLsCmd.Flags().BoolP("quiet", "q", false, "Print only worker ids")

	workerDeleteCmd.Flags().Bool("cascade-update", true, "Release tasks held by the worker")
	workerDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(workerCmd)
}
