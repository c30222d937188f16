// Package session implements the secure two-peer chat session: the
// connection state machine, the in-band key exchange and message
// encryption, and self-echo suppression.
//
// # State Machine
//
//	Idle ──Connect/Accept──► Connecting ──open──► Connected ──close──► Closed
//	                              │                   │
//	                              └──timeout/error────┴──error──► Error
//
// Close moves any non-terminal state to Closed and is idempotent. A closed or
// failed Session is never reused; the application creates a new one for the
// next connection, which starts without a key.
//
// # Encryption
//
// When the channel opens, the dialing side sends its P-384 public key. The
// accepting side answers with its own key, derives the shared AES-256-GCM
// key and may encrypt right away. Until the key exists, or if the handshake
// does not finish within HandshakeTimeout, messages travel as plaintext
// tagged with the sender id so that echoes of our own messages can be
// dropped.
//
// # Concurrency
//
// Each Session runs one loop goroutine that owns all of its state.
// Transport events, timer expiries and API calls are posted to the loop and
// processed one at a time, so a derived key is always committed before the
// next inbound frame is looked at. Events reach the Observer in order on a
// separate goroutine, which may call back into the Session.
//
// # Example
//
//	s, err := session.New(session.Config{
//	    Identity: identity,
//	    LocalID:  peer.ID,
//	    Observer: func(ev session.Event) {
//	        if ev.Kind == session.EventMessage {
//	            fmt.Println(ev.Message.Text)
//	        }
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := s.Connect(peer, "remote-id"); err != nil {
//	    return err
//	}
//	_, err = s.Send("hello")
package session
