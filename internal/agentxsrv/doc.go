// Package agentxsrv wires the four core subsystems — registry, router,
// plugin host, and protocol engine — into one running AgentX process,
// alongside the observability stack every subsystem shares.
//
// It is the composition root that cmd/agentx and cmd/agentxctl both call
// into, kept out of main() so it stays testable.
package agentxsrv
