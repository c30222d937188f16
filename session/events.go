package session

import (
	"time"

	"github.com/opd-ai/peerchat/transport"
)

// EventKind identifies an application notification.
type EventKind uint8

const (
	// EventConnecting fires when a channel is attached.
	EventConnecting EventKind = iota
	// EventConnected fires when the channel opens, Encrypted is false.
	EventConnected
	// EventHandshake reports handshake progress in Text. Encrypted is true
	// once the shared key exists.
	EventHandshake
	// EventMessage carries a local, remote or system Message.
	EventMessage
	// EventError reports the failure that moved the session to Error.
	EventError
	// EventClosed fires when the session closed normally.
	EventClosed
)

// String returns a lowercase name for logs.
func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventHandshake:
		return "handshake"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one notification delivered to the Observer.
type Event struct {
	Kind      EventKind
	RemoteID  string
	Encrypted bool
	Text      string
	Message   *Message
	Err       error
}

// Origin tells who produced a Message.
type Origin uint8

const (
	// OriginLocal marks messages sent by this side.
	OriginLocal Origin = iota
	// OriginRemote marks messages received from the peer.
	OriginRemote
	// OriginSystem marks status notices generated by the session.
	OriginSystem
)

// String returns a lowercase name for logs.
func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "system"
	}
}

// Message is one chat line.
type Message struct {
	Origin    Origin
	Text      string
	Timestamp time.Time
	Encrypted bool
}

// Observer receives session events in order on a dedicated goroutine. It
// may call back into the Session.
type Observer func(Event)

// dispatcher delivers events to the observer without blocking the loop.
type dispatcher struct {
	queue    *transport.Queue[Event]
	observer Observer
	done     chan struct{}
}

func newDispatcher(observer Observer) *dispatcher {
	d := &dispatcher{
		queue:    transport.NewQueue[Event](),
		observer: observer,
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) emit(ev Event) {
	d.queue.Push(ev)
}

// stop delivers what is queued and then closes done.
func (d *dispatcher) stop() {
	d.queue.Close()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue.Out() {
		if d.observer != nil {
			d.observer(ev)
		}
	}
}
