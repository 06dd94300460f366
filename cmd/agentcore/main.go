// Package main provides the CLI entry point for the Agent Session Core.
//
// agentcore hosts one live coding-agent session at a time: a streaming
// turn engine, tool invocation, compaction, and a steering/follow-up
// scheduler, all driven over a newline-delimited JSON RPC boundary on
// stdio so any front-end (terminal UI, editor extension) can attach.
//
// # Basic Usage
//
// Start the RPC server against a workspace:
//
//	agentcore serve --config agentcore.yaml --cwd .
//
// Print the version:
//
//	agentcore version
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: Path to configuration file (default: ./agentcore.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - AWS credentials (standard SDK resolution): Bedrock-hosted models
//   - GEMINI_API_KEY: Google Gemini API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(exitControllerErr)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - headless coding-agent session host",
		Long: `agentcore hosts one live agent session: streaming model turns, tool
execution, compaction, and steering, driven by newline-delimited JSON
commands on stdin and an ordered event stream on stdout.

Supported providers: Anthropic (Claude), OpenAI (GPT), Amazon Bedrock, Google Gemini`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "agentcore %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
