package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vyotiq-agent",
	Short: "Execution core for autonomous coding-agent sessions",
	Long: `vyotiq-agent drives multi-turn agent sessions: a model proposes
actions, they are dispatched as tool calls under a confirmation
protocol, and health monitoring can force-stop a runaway run.

The serve command exposes the core over HTTP and WebSocket.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
