// Package main provides the CLI entry point for the vaagent virtual assistant.
//
// # Basic Usage
//
// Start the HTTP server:
//
//	vaagent serve --config vaagent.yaml
//
// Run a single turn and print the event stream:
//
//	vaagent chat "What's on my list today?"
//	vaagent chat --checkpoint <id> "Mark the first one as done"
//
// Create the database tables:
//
//	vaagent migrate
//
// # Environment Variables
//
//   - VAAGENT_CONFIG: Path to configuration file
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: model provider key
//   - TAVILY_API_KEY: web search key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vaagent"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	vaagent.Version = version

	rootCmd := &cobra.Command{
		Use:   "vaagent",
		Short: "vaagent: multi-agent virtual assistant",
		Long: `vaagent answers chat messages with a team of agents: a supervisor routes
each request to a query enhancer, a web researcher or a task manager and the
reply is streamed as server-sent events.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("VAAGENT_CONFIG"), "Path to YAML configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildMigrateCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
