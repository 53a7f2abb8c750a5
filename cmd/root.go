// Package cmd implements the llmtoolbox CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string

	appVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "llmtoolbox",
	Short: "LLM Toolbox, a local front end for Ollama",
	Long:  "LLM Toolbox serves a web page to prompt a local Ollama model and summarize documents with it.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "llmtoolbox.yaml", "config file path")

	rootCmd.AddCommand(serveCmd)
}

// SetVersionInfo sets the version and commit for display.
func SetVersionInfo(version, commit string) {
	appVersion = version
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("llmtoolbox %s (commit: %s)\n", version, commit))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
