// Package cli implements the coreproxy command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coreproxy",
	Short: "coreproxy — predictive orchestration core for a personal compute fabric",
	Long: `coreproxy learns the resource and intent patterns of the nodes it runs
on, predicts near-term load, and proposes or executes allocation actions
through a reinforcement-learning policy. It talks to an orchestrator over a
persistent line-delimited JSON stream and exposes a small local HTTP surface
for health and summary queries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
