// Missiond drives software missions through a five-phase pipeline: plan,
// execute, validate, integrate, memory.
//
// Planning and task execution run on local models via Ollama. Calls to
// external AI providers only happen through the gate, which enforces scope,
// budget and audit requirements.
//
// Usage:
//
//	# Run a mission against the current repository
//	missiond run --title "Add rate limiting" --objective "Add a token bucket limiter to the API"
//
//	# Store and search mission memory
//	missiond memory add --type adr --title "Use NATS" notes.md
//	missiond memory search "event publishing"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "missiond",
	Short: "Mission orchestration for local-first coding agents",
	Long: `missiond breaks a mission objective into tasks, executes them with local
model agents in dependency order, validates the result, and integrates it on
a dedicated git branch. Lessons learned land in retrievable memory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("missiond %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/missiond/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}
