// Command agentx runs one AgentX process: registry, protocol engine,
// plugin host, and message router wired together behind a JSON-RPC
// listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentxhub/agentx/internal/agentxsrv"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := agentxsrv.Run(ctx, "agentx"); err != nil {
		panic(err)
	}
}
