package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/labtasker/labtasker/pkg/sdk"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage queues",
}

var queueCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new queue",
	Long: `Register a new queue using the configured credentials.

Examples:
  # Register the queue from ~/.labtasker/config.yaml
  labtasker queue create

  # Register a queue explicitly
  labtasker queue create --queue experiments --password hunter2 --metadata '{"team":"ml"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawMetadata, _ := cmd.Flags().GetString("metadata")
		metadata, err := parseJSONMap(rawMetadata, "metadata")
		if err != nil {
			return err
		}

		queueName := viper.GetString("queue_name")
		password := viper.GetString("password")
		if queueName == "" || password == "" {
			return fmt.Errorf("queue name and password are required (flags, config file or LABTASKER_* env)")
		}

		queue, err := newClient().Queues.Create(cmd.Context(), &sdk.CreateQueueRequest{
			QueueName: queueName,
			Password:  password,
			Metadata:  metadata,
		})
		if err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			fmt.Println(queue.QueueID)
			return nil
		}
		return printResult(queue)
	},
}

var queueGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the authenticated queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, err := newClient().Queues.Get(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(queue)
	},
}

var queueUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Rename the queue, rotate its password, or merge metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &sdk.UpdateQueueRequest{}

		if cmd.Flags().Changed("new-name") {
			newName, _ := cmd.Flags().GetString("new-name")
			req.NewQueueName = &newName
		}
		if cmd.Flags().Changed("new-password") {
			newPassword, _ := cmd.Flags().GetString("new-password")
			req.NewPassword = &newPassword
		}
		rawMetadata, _ := cmd.Flags().GetString("metadata")
		metadata, err := parseJSONMap(rawMetadata, "metadata")
		if err != nil {
			return err
		}
		req.MetadataUpdate = metadata

		if req.NewQueueName == nil && req.NewPassword == nil && len(req.MetadataUpdate) == 0 {
			return fmt.Errorf("nothing to update: give --new-name, --new-password or --metadata")
		}

		modified, err := newClient().Queues.Update(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("modified: %d\n", modified)
		return nil
	},
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the authenticated queue",
	Long: `Delete the authenticated queue. With --cascade the queue's tasks
and workers are removed too; without it they are left orphaned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cascade, _ := cmd.Flags().GetBool("cascade")

		prompt := fmt.Sprintf("Delete queue %q", viper.GetString("queue_name"))
		if cascade {
			prompt += " and all its tasks and workers"
		}
		if !confirm(cmd, prompt) {
			return fmt.Errorf("aborted")
		}

		affected, err := newClient().Queues.Delete(cmd.Context(), cascade)
		if err != nil {
			return err
		}
		fmt.Printf("deleted: %d\n", affected)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueCreateCmd)
	queueCmd.AddCommand(queueGetCmd)
	queueCmd.AddCommand(queueUpdateCmd)
	queueCmd.AddCommand(queueDeleteCmd)

	queueCreateCmd.Flags().String("metadata", "", "Queue metadata as a JSON object")
	queueCreateCmd.Flags().BoolP("quiet", "q", false, "Print only the queue id")

	queueUpdateCmd.Flags().String("new-name", "", "New queue name")
	queueUpdateCmd.Flags().String("new-password", "", "New queue password")
	queueUpdateCmd.Flags().String("metadata", "", "Metadata keys to merge, as a JSON object")

	queueDeleteCmd.Flags().Bool("cascade", false, "Also delete the queue's tasks and workers")
	queueDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(queueCmd)
}
