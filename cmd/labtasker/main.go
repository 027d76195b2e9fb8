package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/labtasker/labtasker/pkg/filterexpr"
	"github.com/labtasker/labtasker/pkg/sdk"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labtasker",
	Short: "Labtasker - task queue client",
	Long: `Labtasker is the command-line client for the labtasker task queue
service. It manages queues, tasks and workers through the HTTP API.

Credentials come from ~/.labtasker/config.yaml, LABTASKER_* environment
variables, or the --queue/--password flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"labtasker version %s\nCommit: %s\n",
		Version, Commit,
	))

	rootCmd.PersistentFlags().String("endpoint", "", "Server address (default http://localhost:9321)")
	rootCmd.PersistentFlags().String("queue", "", "Queue name used for authentication")
	rootCmd.PersistentFlags().String("password", "", "Queue password used for authentication")
	rootCmd.PersistentFlags().String("fmt", "yaml", "Output format: yaml or jsonl")

	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("queue_name", rootCmd.PersistentFlags().Lookup("queue"))
	viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("fmt", rootCmd.PersistentFlags().Lookup("fmt"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".labtasker"))
	}
	viper.SetEnvPrefix("LABTASKER")
	viper.AutomaticEnv()
	viper.SetDefault("endpoint", "http://localhost:9321")

	// A missing config file is fine; env and flags still apply
	_ = viper.ReadInConfig()
}

// newClient builds an API client from the effective configuration
func newClient() *sdk.Client {
	opts := []sdk.ClientOption{}
	if queueName := viper.GetString("queue_name"); queueName != "" {
		opts = append(opts, sdk.WithCredentials(queueName, viper.GetString("password")))
	}
	return sdk.NewClient(viper.GetString("endpoint"), opts...)
}

// printResult renders v in the selected output format
func printResult(v interface{}) error {
	switch viper.GetString("fmt") {
	case "jsonl":
		return printJSONL(v)
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode output: %v", err)
		}
		fmt.Print(string(out))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", viper.GetString("fmt"))
	}
}

// printJSONL prints one JSON object per line. Slices become one line
// per element.
func printJSONL(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	switch items := v.(type) {
	case []sdk.Task:
		for i := range items {
			if err := enc.Encode(items[i]); err != nil {
				return err
			}
		}
	case []sdk.Worker:
		for i := range items {
			if err := enc.Encode(items[i]); err != nil {
				return err
			}
		}
	case []map[string]interface{}:
		for i := range items {
			if err := enc.Encode(items[i]); err != nil {
				return err
			}
		}
	default:
		return enc.Encode(v)
	}
	return nil
}

// confirm asks for interactive confirmation unless --yes was given
func confirm(cmd *cobra.Command, prompt string) bool {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// parseJSONMap decodes a JSON object flag value. Empty input is nil.
func parseJSONMap(raw, flagName string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %v", flagName, err)
	}
	return m, nil
}

// parseExtraFilter accepts a native JSON filter document or a
// Python-style expression like `args.model == "resnet" and priority >= 10`
func parseExtraFilter(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		return m, nil
	}
	filter, err := filterexpr.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("--extra-filter is neither a JSON object nor a valid expression: %v", err)
	}
	return filter, nil
}
