// Command agentxctl is the AgentX operator CLI: run a node, validate a
// message against the wire protocol rules, or check a local process's
// health endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/agentxhub/agentx/cmd/agentxctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
