package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentxctl",
	Short: "Operate an AgentX inter-agent messaging node",
	Long: `agentxctl is the operator CLI for AgentX: run a node, validate a
canonical Message against the wire protocol rules, or check a
running process's health endpoint.`,
	SilenceUsage: true,
}

// Execute runs the root command; cmd/agentxctl's main delegates to it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}
