package transport

import "errors"

var (
	// ErrChannelClosed is returned by Send on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelNotOpen is returned by Send before the channel opened.
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrPeerClosed is returned by operations on a destroyed peer.
	ErrPeerClosed = errors.New("peer closed")
	// ErrPeerUnavailable reports that the dialed peer id is unknown.
	ErrPeerUnavailable = errors.New("peer unavailable")
)

// EventType identifies a channel event.
type EventType uint8

const (
	// EventOpen fires once when the channel becomes usable.
	EventOpen EventType = iota
	// EventData carries one inbound frame.
	EventData
	// EventClose is a final event: the channel closed normally.
	EventClose
	// EventError is a final event: the channel failed.
	EventError
)

// String returns a lowercase name for logs.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a Channel.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// Channel is an ordered, bidirectional message channel to one remote peer.
//
// Events() delivers events in order and is closed after the first EventClose
// or EventError. Close is idempotent.
type Channel interface {
	// RemoteID returns the discovery id of the other end.
	RemoteID() string

	// Send transmits one frame. It fails before EventOpen and after close.
	Send(data []byte) error

	// Events returns the event stream of this channel.
	Events() <-chan Event

	// Close shuts the channel down.
	Close() error
}

// Dialer opens outbound channels by remote discovery id.
type Dialer interface {
	// Dial starts connecting to remoteID. The returned channel reports
	// EventOpen once the remote side accepted. A synchronous error means the
	// attempt could not even start.
	Dial(remoteID string) (Channel, error)
}

// PeerEventType identifies a peer-level event.
type PeerEventType uint8

const (
	// PeerOpen reports the peer registered under ID with the broker.
	PeerOpen PeerEventType = iota
	// PeerConnection carries an inbound Channel from a remote peer.
	PeerConnection
	// PeerError reports a peer-level failure. The peer should be destroyed.
	PeerError
	// PeerDisconnected reports the broker link dropped. Reconnect may help.
	PeerDisconnected
)

// String returns a lowercase name for logs.
func (t PeerEventType) String() string {
	switch t {
	case PeerOpen:
		return "open"
	case PeerConnection:
		return "connection"
	case PeerError:
		return "error"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerEvent is one notification from a Peer.
type PeerEvent struct {
	Type    PeerEventType
	ID      string
	Channel Channel
	Err     error
}

// Peer is the local endpoint registered with a signaling broker.
type Peer interface {
	Dialer

	// ID returns the discovery id, or "" before PeerOpen.
	ID() string

	// Events returns the peer event stream. It is closed by Close.
	Events() <-chan PeerEvent

	// Reconnect re-registers with the broker after PeerDisconnected.
	Reconnect() error

	// Close destroys the peer and all of its channels.
	Close() error
}

// PeerFactory creates a fresh Peer, used again after a peer-level error.
type PeerFactory func() (Peer, error)
