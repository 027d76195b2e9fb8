package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		health, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("server unreachable: %v", err)
		}
		fmt.Printf("health: %s\n", health)

		status, err := client.Status(cmd.Context())
		if err != nil {
			// the status endpoint needs a reachable API but no credentials
			return nil
		}
		fmt.Printf("version: %s\n", status.Version)
		fmt.Printf("uptime_seconds: %d\n", status.UptimeSeconds)
		if status.System != nil {
			fmt.Printf("go_version: %s\n", status.System.GoVersion)
			fmt.Printf("cpu_percent: %.1f\n", status.System.CPUPercent)
			fmt.Printf("memory_used_percent: %.1f\n", status.System.MemoryUsedPercent)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
