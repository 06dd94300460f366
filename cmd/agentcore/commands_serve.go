package main

import (
	"github.com/spf13/cobra"
)

// Exit codes: 0 clean shutdown, 1 unrecoverable controller error, 2 bad
// invocation.
const (
	exitClean         = 0
	exitControllerErr = 1
	exitBadInvocation = 2
)

// buildServeCmd creates the "serve" command: the only long-running
// command this binary has, since every other interaction happens over
// the RPC boundary once a session is attached.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		cwd        string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach an RPC session to stdin/stdout",
		Long: `Start hosting one agent session, reading newline-delimited JSON
commands from stdin and writing responses and events to stdout.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  agentcore serve

  # Start against a specific workspace with custom config
  agentcore serve --config /etc/agentcore/production.yaml --cwd /workspace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, cwd, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./agentcore.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&cwd, "cwd", ".", "Workspace directory tools execute against")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
