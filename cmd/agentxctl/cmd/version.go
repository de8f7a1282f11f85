package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentxhub/agentx/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent-to-agent protocol version",
	RunE: func(c *cobra.Command, args []string) error {
		fmt.Println(protocol.ProtocolVersion)
		return nil
	},
}
