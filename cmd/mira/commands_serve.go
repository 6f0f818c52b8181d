package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: the turn-loop entrypoint.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the continuum turn loop over stdin/stdout",
		Long: `Run the continuum turn loop over stdin/stdout JSON-lines.

Each line of stdin is a JSON object:

  {"user_id": "...", "continuum_id": "...", "text": "..."}

continuum_id is optional; omitting it starts a fresh continuum and its
generated id is echoed back in the response so a client can resume it on
the next line. Each line of stdout is a JSON object describing the turn's
result or an error.

The server exposes no HTTP or WebSocket surface. Graceful shutdown is
handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  mira serve

  # Start with custom config
  mira serve --config /etc/mira/production.yaml

  # Start with debug logging
  mira serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return defaultConfigPath()
}
