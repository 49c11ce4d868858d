// Package cli implements the krill command-line interface using Cobra.
// Subcommands either run the node (serve) or talk to a running node's
// control API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "krill",
	Short: "krill is a decentralized compute marketplace node",
	Long: `krill runs a node on the compute marketplace: it advertises tasks,
negotiates subtasks with peers, verifies delivered results and settles
payments for verified work.`,
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
