// Package peerchat implements end-to-end encrypted two-party chat sessions
// over a pluggable peer transport.
//
// A Client owns one long-term P-384 identity, one transport peer and at
// most one active chat session. Sessions negotiate a shared AES-256-GCM key
// in band by exchanging public keys over the same channel that later
// carries the chat messages. Until the key exists, and if the handshake
// fails or times out, messages travel in plaintext and are marked as such.
//
// # Getting Started
//
// Create a client on top of a relay transport and register callbacks:
//
//	options := peerchat.NewOptions()
//	factory := relay.Factory(relay.ClientOptions{
//	    URL: "wss://relay.example.org/",
//	    ID:  "alice",
//	})
//
//	client, err := peerchat.New(options, factory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnPeerStatus(func(st peerchat.PeerStatus) {
//	    if st.State == peerchat.PeerReady {
//	        fmt.Println("reachable as", st.ID)
//	    }
//	})
//
//	client.OnSessionEvent(func(ev session.Event) {
//	    if ev.Kind == session.EventMessage {
//	        fmt.Println(ev.Message.Text)
//	    }
//	})
//
//	if err := client.Connect("bob"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Sessions
//
// Connect dials the remote id and starts an initiator session. A channel
// accepted from the transport replaces the active session with a responder
// session. Only one session is active at a time; Send and Disconnect always
// address the current one. Session events carry the lifecycle (connecting,
// connected, handshake progress, messages, errors and close) as values of
// session.Event.
//
// # Transport Peers
//
// The transport peer is created through a transport.PeerFactory and
// supervised by the client. A disconnected peer is asked to reconnect with
// its previous id. A peer that reports an error is discarded and re-created
// after Options.RetryDelay. Every timer in the client and its sessions runs
// on Options.TimeProvider so tests can drive them deterministically.
//
// # Transports
//
// Two transports ship with the module:
//
//   - transport/relay: WebSocket client and server with id-based discovery,
//     optional Noise NN/NK link encryption and SOCKS5 or HTTP proxy support
//   - transport/mem: in-process network used by tests and examples
//
// # Wire Format
//
// Envelopes are encoded with a codec from the envelope package, JSON by
// default or CBOR. Both peers must use the same codec.
//
// # Command Line
//
// cmd/peerchat provides an interactive chat client, a relay server and a
// fingerprint printer configured through peerchat.yaml and PEERCHAT_*
// environment variables.
package peerchat
