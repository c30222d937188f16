// Package transport defines the boundary between a peerchat session and the
// network that carries it.
//
// The session layer never talks to sockets. It consumes two abstractions:
//
//   - Channel: an ordered, bidirectional frame channel to one remote peer,
//     reporting open, data, close and error events on a Go channel.
//   - Peer: the local endpoint registered with a signaling broker. It yields
//     inbound Channels, dials outbound ones by discovery id and reports
//     broker-level failures.
//
// Implementations live in sub-packages:
//
//	transport/mem    in-memory network for tests and simulations
//	transport/relay  WebSocket signaling relay, client and server
//
// # Event Streams
//
// Every event stream is backed by a Queue, an unbounded FIFO, so a slow
// consumer never stalls the network side. A channel's stream ends with
// exactly one EventClose or EventError, after which it is closed.
//
// # Proxies
//
// ProxyConfig describes an outbound SOCKS5 or HTTP CONNECT proxy used by
// network-backed implementations to reach the broker:
//
//	cfg, err := transport.ParseProxyURL("socks5://127.0.0.1:9050")
//	dialer, err := cfg.Dialer()
package transport
