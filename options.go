package peerchat

import (
	"io"
	"time"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/session"
)

// DefaultRetryDelay is how long the client waits before re-creating a
// failed transport peer.
const DefaultRetryDelay = 3 * time.Second

// Options contains configuration for a Client.
type Options struct {
	// Codec names the envelope codec, "json" or "cbor".
	Codec string
	// KDF selects how session keys are derived from the ECDH secret.
	KDF              crypto.KDF
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// RetryDelay is the pause between a peer-level error and re-creating
	// the peer through the factory.
	RetryDelay time.Duration
	// TimeProvider drives every timer of the client and its sessions.
	// Nil uses the system clock.
	TimeProvider session.TimeProvider
	// Rand is the entropy source for the identity. Nil uses crypto/rand.
	Rand io.Reader
}

// NewOptions creates a new default options.
func NewOptions() *Options {
	return &Options{
		Codec:            "json",
		KDF:              crypto.KDFRaw,
		ConnectTimeout:   session.DefaultConnectTimeout,
		HandshakeTimeout: session.DefaultHandshakeTimeout,
		RetryDelay:       DefaultRetryDelay,
	}
}
