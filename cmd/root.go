// Package cmd implements the animara CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/animara-ai/animara/cmd.Version=x.y.z"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "animara",
	Short: "Animara — personal assistant proxy over a local LLM",
	Long: `Animara is an OpenAI-compatible proxy that turns a local LLM into a
personal assistant: per-caller sessions, long-term memory with hybrid
retrieval, built-in and MCP tools, and an optional premium backend.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Default action: run the proxy.
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("animara %s\n", Version)
		},
	}
}

// resolveConfigPath returns the config path: --config flag, then
// ANIMARA_CONFIG env var, then config.json in the working directory.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("ANIMARA_CONFIG"); env != "" {
		return env
	}
	return "config.json"
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
