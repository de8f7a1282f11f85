package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentxhub/agentx/internal/agentxsrv"
)

var serveComponent string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an AgentX node (registry + protocol engine + plugin host + router)",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		return agentxsrv.Run(ctx, serveComponent)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveComponent, "component", "agentx", "component name reported in observability resource attributes")
}
