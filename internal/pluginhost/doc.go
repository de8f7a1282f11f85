// Package pluginhost presents every external framework adapter as a
// uniform, process-isolated capability provider. One adapter equals one
// child process; the host owns its lifetime and the framed RPC channel to
// it, and isolates the router and registry from adapter crashes.
//
// The wire format is a length-prefixed binary envelope: a u32 big-endian
// length followed by a JSON-encoded Envelope whose payload field stays
// opaque to the host. Only a registered per-framework Codec ever looks
// inside a payload, and only on the Forward path.
package pluginhost
