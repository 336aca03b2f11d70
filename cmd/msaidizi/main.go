// Msaidizi — action execution engine for conversational assistants.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "msaidizi",
	Short: "Msaidizi — action execution engine for conversational assistants.",
	Long: `Msaidizi executes the custom actions behind a conversational assistant:
HTTP calls, vendor integrations, sandboxed scripts, LLM prompts, scheduled
and parallel compositions, and live-agent handoff. Each dialog turn runs one
action against a conversation snapshot and returns events and responses to
the dialog manager.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
