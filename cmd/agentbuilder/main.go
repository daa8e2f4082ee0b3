// Command agentbuilder serves the agent builder API and carries its
// maintenance commands (migrations, user administration, rollups).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "agentbuilder",
	Short:         "Agent builder backend",
	Long:          "CRUD backend for AI agents, multi-agent group chats, execution logs, and usage analytics.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(quotaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
