package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective client configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		source := viper.ConfigFileUsed()
		if source == "" {
			source = "(no config file; flags and LABTASKER_* env only)"
		}
		fmt.Printf("config_file: %s\n", source)
		fmt.Printf("endpoint: %s\n", viper.GetString("endpoint"))
		fmt.Printf("queue_name: %s\n", viper.GetString("queue_name"))
		fmt.Printf("password: %s\n", maskSecret(viper.GetString("password")))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file to ~/.labtasker/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %v", err)
		}

		dir := filepath.Join(home, ".labtasker")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %v", dir, err)
		}

		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		content := fmt.Sprintf("endpoint: %s\nqueue_name: %s\npassword: %s\n",
			viper.GetString("endpoint"),
			viper.GetString("queue_name"),
			viper.GetString("password"),
		)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %v", path, err)
		}

		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
