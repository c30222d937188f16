package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/envelope"
	"github.com/opd-ai/peerchat/handshake"
	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/transport"
)

var (
	// ErrConnectionTimeout indicates the channel did not open in time.
	ErrConnectionTimeout = errors.New("connection timed out")
	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("transport error")
	// ErrNoActiveConnection is returned by Send outside the Connected state.
	ErrNoActiveConnection = errors.New("no active connection")
	// ErrInvalidState is returned when an operation does not apply to the
	// current state, such as connecting a session twice.
	ErrInvalidState = errors.New("invalid session state")
	// ErrNoIdentity is returned by New without an identity.
	ErrNoIdentity = errors.New("session requires an identity")
)

const (
	// DefaultConnectTimeout bounds how long a channel may take to open.
	DefaultConnectTimeout = 15 * time.Second
	// DefaultHandshakeTimeout bounds how long the key exchange may take
	// after the channel opened.
	DefaultHandshakeTimeout = 10 * time.Second
)

// System message texts.
const (
	textConnectedTo      = "Connected successfully to %s!"
	textAcceptedFrom     = "Accepted connection from %s"
	textConnectionClosed = "Connection closed"
	textDisconnected     = "Disconnected"
	textHandshakeStart   = "Exchanging keys..."
	textSecure           = "Secure channel established"
	textHandshakeTimeout = "Secure handshake timed out; messages are not encrypted"
	textHandshakeFailed  = "Secure handshake failed; messages are not encrypted"
	textDecryptFailed    = "Failed to decrypt message"
	textNoKey            = "Received an encrypted message before the secure channel was established"
)

// Config holds the dependencies and tunables of a Session.
type Config struct {
	// Identity is the process-wide key pair. Required.
	Identity *crypto.Identity
	// LocalID returns this side's discovery id. It is read on every send
	// and receive because the id may change when the peer is re-created.
	LocalID func() string
	// Codec encodes envelopes on the wire. Defaults to JSON.
	Codec envelope.Codec
	// KDF selects how the shared secret becomes the AES key.
	KDF crypto.KDF
	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// TimeProvider defaults to the system clock.
	TimeProvider TimeProvider
	// Observer receives events. May be nil.
	Observer Observer
}

// Status is a point-in-time snapshot of a Session.
type Status struct {
	State     State
	RemoteID  string
	Role      handshake.Role
	Handshake handshake.State
	Encrypted bool
	Err       error
}

type channelEvent struct {
	generation uint64
	event      transport.Event
}

type timerKind uint8

const (
	connectTimer timerKind = iota
	handshakeTimer
)

type timerFired struct {
	kind  timerKind
	token uint64
}

type pendingTimer struct {
	handle Timer
	token  uint64
}

// Session is one end-to-end encrypted conversation over one channel.
//
// All state is owned by a single loop goroutine. Public methods post work to
// that loop and wait for it, so a Session is safe for concurrent use.
type Session struct {
	cfg   Config
	clock TimeProvider

	requests chan func()
	inbound  chan channelEvent
	timers   chan timerFired
	stopped  chan struct{}
	done     chan struct{}
	events   *dispatcher

	statusMu sync.RWMutex
	status   Status

	// Loop-owned below.
	state      State
	remoteID   string
	role       handshake.Role
	channel    transport.Channel
	generation uint64
	hs         *handshake.Handshake
	timerSeq   uint64
	pending    [2]pendingTimer
	err        error
}

// New creates an idle session and starts its loop.
func New(cfg Config) (*Session, error) {
	if cfg.Identity == nil {
		return nil, ErrNoIdentity
	}
	if cfg.Codec == nil {
		cfg.Codec = envelope.JSON()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.LocalID == nil {
		cfg.LocalID = func() string { return "" }
	}

	s := &Session{
		cfg:      cfg,
		clock:    getTimeProvider(cfg.TimeProvider),
		requests: make(chan func()),
		inbound:  make(chan channelEvent),
		timers:   make(chan timerFired),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		events:   newDispatcher(cfg.Observer),
		state:    Idle,
	}
	s.publish()

	go s.run()
	return s, nil
}

// Connect dials remoteID and moves Idle → Connecting. The dialing side
// initiates the handshake once the channel opens.
func (s *Session) Connect(dialer transport.Dialer, remoteID string) error {
	var err error
	if !s.exec(func() { err = s.connect(dialer, remoteID) }) {
		return fmt.Errorf("%w: session already ended", ErrInvalidState)
	}
	return err
}

// Accept attaches an inbound channel and moves Idle → Connecting. The
// accepting side answers the handshake.
func (s *Session) Accept(ch transport.Channel) error {
	var err error
	if !s.exec(func() { err = s.accept(ch) }) {
		return fmt.Errorf("%w: session already ended", ErrInvalidState)
	}
	return err
}

// Send transmits text to the peer, encrypted once the shared key exists.
// It returns the local message that was also delivered to the observer.
func (s *Session) Send(text string) (*Message, error) {
	var (
		msg *Message
		err error
	)
	if !s.exec(func() { msg, err = s.send(text) }) {
		return nil, ErrNoActiveConnection
	}
	return msg, err
}

// Close ends the session. Calling it again, or after an error, is a no-op.
func (s *Session) Close() error {
	s.exec(s.close)
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Done is closed once the session reached Closed or Error and every event
// was delivered to the observer.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// exec runs fn on the loop and waits for it. It returns false if the loop
// has already stopped.
func (s *Session) exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case s.requests <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.stopped:
		return false
	}
	<-finished
	return true
}

func (s *Session) run() {
	defer func() {
		close(s.stopped)
		s.events.stop()
		<-s.events.done
		close(s.done)
	}()

	for !s.state.Terminal() {
		select {
		case fn := <-s.requests:
			fn()
		case in := <-s.inbound:
			s.handleChannelEvent(in)
		case t := <-s.timers:
			s.handleTimer(t)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "run",
		"remote_id": s.remoteID,
		"state":     s.state.String(),
	}).Debug("Session loop finished")
}

func (s *Session) connect(dialer transport.Dialer, remoteID string) error {
	if s.state != Idle {
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, s.state)
	}
	if dialer == nil || remoteID == "" {
		return fmt.Errorf("%w: dialer and remote id are required", ErrInvalidState)
	}

	s.remoteID = remoteID
	s.role = handshake.Initiator
	s.setState(Connecting)
	s.emit(Event{Kind: EventConnecting})

	logrus.WithFields(logrus.Fields{
		"function":  "connect",
		"remote_id": remoteID,
	}).Info("Dialing peer")

	ch, err := dialer.Dial(remoteID)
	if err != nil {
		wrapped := fmt.Errorf("%w: dial %s: %v", ErrTransport, remoteID, err)
		s.fail(wrapped)
		return wrapped
	}

	s.attach(ch)
	return nil
}

func (s *Session) accept(ch transport.Channel) error {
	if s.state != Idle {
		return fmt.Errorf("%w: accept in state %s", ErrInvalidState, s.state)
	}
	if ch == nil {
		return fmt.Errorf("%w: nil channel", ErrInvalidState)
	}

	s.remoteID = ch.RemoteID()
	s.role = handshake.Responder
	s.setState(Connecting)
	s.emit(Event{Kind: EventConnecting})

	logrus.WithFields(logrus.Fields{
		"function":  "accept",
		"remote_id": s.remoteID,
	}).Info("Accepting inbound connection")

	s.attach(ch)
	return nil
}

// attach binds ch as the live channel. Its events are pumped exactly once
// per attachment, tagged with the generation current at attach time.
func (s *Session) attach(ch transport.Channel) {
	s.generation++
	s.channel = ch
	s.hs = handshake.New(s.cfg.Identity, s.cfg.KDF, s.role)
	s.arm(connectTimer, s.cfg.ConnectTimeout)
	s.publish()

	go s.pump(s.generation, ch)
}

func (s *Session) pump(generation uint64, ch transport.Channel) {
	events := ch.Events()
	for ev := range events {
		select {
		case s.inbound <- channelEvent{generation: generation, event: ev}:
		case <-s.stopped:
			for range events {
			}
			return
		}
	}
}

func (s *Session) handleChannelEvent(in channelEvent) {
	if in.generation != s.generation || s.channel == nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleChannelEvent",
			"event":      in.event.Type.String(),
			"generation": in.generation,
		}).Debug("Dropping event from invalidated channel")
		return
	}

	switch in.event.Type {
	case transport.EventOpen:
		s.handleOpen()
	case transport.EventData:
		s.handleData(in.event.Data)
	case transport.EventClose:
		s.handleClose()
	case transport.EventError:
		s.fail(fmt.Errorf("%w: %v", ErrTransport, in.event.Err))
	}
}

func (s *Session) handleOpen() {
	if s.state != Connecting {
		return
	}

	s.cancel(connectTimer)
	s.setState(Connected)
	s.emit(Event{Kind: EventConnected})

	if s.role == handshake.Initiator {
		s.system(fmt.Sprintf(textConnectedTo, s.remoteID))
	} else {
		s.system(fmt.Sprintf(textAcceptedFrom, s.remoteID))
	}

	s.arm(handshakeTimer, s.cfg.HandshakeTimeout)
	s.emit(Event{Kind: EventHandshake, Text: textHandshakeStart})

	if s.role == handshake.Initiator {
		kx, err := s.hs.Start()
		if err != nil {
			s.handshakeFailed(err)
			return
		}
		s.write(kx)
	}
	s.publish()
}

func (s *Session) handleData(frame []byte) {
	if s.state != Connected {
		return
	}

	env, err := s.cfg.Codec.Unmarshal(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleData",
			"remote_id":  s.remoteID,
			"frame_size": len(frame),
			"error":      err.Error(),
		}).Warn("Dropping malformed frame")
		return
	}

	switch env.Kind {
	case envelope.KindKeyExchange:
		s.handleKeyExchange(env)
	case envelope.KindKeyExchangeComplete:
		if err := s.hs.HandleComplete(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleData",
				"error":    err.Error(),
			}).Debug("Ignoring handshake completion")
		}
		s.publish()
	case envelope.KindEncrypted:
		s.handleEncrypted(env)
	case envelope.KindPlaintext:
		s.handlePlaintext(env)
	}
}

func (s *Session) handleKeyExchange(env *envelope.Envelope) {
	replies, err := s.hs.HandleKeyExchange(env)
	if err != nil {
		if errors.Is(err, handshake.ErrUnexpected) {
			logrus.WithFields(logrus.Fields{
				"function":  "handleKeyExchange",
				"remote_id": s.remoteID,
				"state":     s.hs.State().String(),
			}).Debug("Ignoring key exchange")
			return
		}
		s.handshakeFailed(err)
		return
	}

	for _, reply := range replies {
		if !s.write(reply) {
			return
		}
	}

	s.cancel(handshakeTimer)
	s.publish()

	logrus.WithFields(logrus.Fields{
		"function":  "handleKeyExchange",
		"remote_id": s.remoteID,
		"role":      s.role.String(),
		"key":       s.hs.Key().Fingerprint(),
	}).Info("Shared key derived")

	s.emit(Event{Kind: EventHandshake, Encrypted: true, Text: textSecure})
	s.system(textSecure)
}

func (s *Session) handshakeFailed(err error) {
	s.cancel(handshakeTimer)
	s.hs.Abandon(err)
	s.publish()

	logrus.WithFields(logrus.Fields{
		"function":  "handshakeFailed",
		"remote_id": s.remoteID,
		"error":     err.Error(),
	}).Warn("Handshake failed, continuing unencrypted")

	s.emit(Event{Kind: EventHandshake, Text: textHandshakeFailed, Err: err})
	s.system(textHandshakeFailed)
}

func (s *Session) handleEncrypted(env *envelope.Envelope) {
	key := s.hs.Key()
	if key == nil {
		s.system(textNoKey)
		return
	}

	plaintext, err := key.Decrypt(env.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleEncrypted",
			"remote_id": s.remoteID,
			"error":     err.Error(),
		}).Warn("Failed to decrypt message")
		s.system(textDecryptFailed)
		return
	}

	s.deliver(&Message{
		Origin:    OriginRemote,
		Text:      string(plaintext),
		Timestamp: s.clock.Now(),
		Encrypted: true,
	})
}

func (s *Session) handlePlaintext(env *envelope.Envelope) {
	if env.From != "" && env.From == s.cfg.LocalID() {
		logrus.WithFields(logrus.Fields{
			"function": "handlePlaintext",
			"from":     env.From,
		}).Debug("Suppressing echo of own message")
		return
	}

	s.deliver(&Message{
		Origin:    OriginRemote,
		Text:      env.Text,
		Timestamp: s.clock.Now(),
	})
}

func (s *Session) handleClose() {
	switch s.state {
	case Connecting:
		s.fail(fmt.Errorf("%w: channel closed before it opened", ErrTransport))
	case Connected:
		s.teardown()
		s.system(textConnectionClosed)
		s.setState(Closed)
		s.emit(Event{Kind: EventClosed})
	}
}

func (s *Session) handleTimer(t timerFired) {
	p := &s.pending[t.kind]
	if p.token != t.token {
		return
	}
	p.handle = nil
	p.token = 0

	switch t.kind {
	case connectTimer:
		if s.state == Connecting {
			s.fail(fmt.Errorf("%w: %s did not answer within %s", ErrConnectionTimeout, s.remoteID, s.cfg.ConnectTimeout))
		}
	case handshakeTimer:
		if s.state == Connected && s.hs.Abandon(handshake.ErrHandshakeTimeout) {
			s.publish()
			logrus.WithFields(logrus.Fields{
				"function":  "handleTimer",
				"remote_id": s.remoteID,
				"timeout":   s.cfg.HandshakeTimeout,
			}).Warn("Handshake timed out, continuing unencrypted")
			s.emit(Event{Kind: EventHandshake, Text: textHandshakeTimeout, Err: handshake.ErrHandshakeTimeout})
			s.system(textHandshakeTimeout)
		}
	}
}

func (s *Session) send(text string) (*Message, error) {
	if s.state != Connected || s.channel == nil {
		return nil, ErrNoActiveConnection
	}
	if strings.TrimSpace(text) == "" {
		return nil, limits.ErrMessageEmpty
	}
	if err := limits.ValidatePlaintextMessage([]byte(text)); err != nil {
		return nil, err
	}

	var env *envelope.Envelope
	encrypted := false
	if key := s.hs.Key(); key != nil {
		data, err := key.Encrypt([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("encrypt message: %w", err)
		}
		env = envelope.NewEncrypted(data)
		encrypted = true
	} else {
		env = envelope.NewPlaintext(text, s.cfg.LocalID())
	}

	frame, err := s.cfg.Codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := s.channel.Send(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	msg := &Message{
		Origin:    OriginLocal,
		Text:      text,
		Timestamp: s.clock.Now(),
		Encrypted: encrypted,
	}
	s.deliver(msg)
	return msg, nil
}

func (s *Session) close() {
	if s.state.Terminal() {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "close",
		"remote_id": s.remoteID,
		"state":     s.state.String(),
	}).Info("Closing session")

	wasActive := s.state != Idle
	s.teardown()
	if wasActive {
		s.system(textDisconnected)
	}
	s.setState(Closed)
	s.emit(Event{Kind: EventClosed})
}

func (s *Session) fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function":  "fail",
		"remote_id": s.remoteID,
		"state":     s.state.String(),
		"error":     err.Error(),
	}).Error("Session failed")

	s.teardown()
	s.err = err
	s.setState(Error)
	s.emit(Event{Kind: EventError, Err: err})
}

// teardown cancels timers, wipes the key and invalidates the channel before
// closing it, so its own close event is ignored.
func (s *Session) teardown() {
	s.cancel(connectTimer)
	s.cancel(handshakeTimer)

	if s.hs != nil {
		s.hs.Discard()
	}

	if ch := s.channel; ch != nil {
		s.generation++
		s.channel = nil
		if err := ch.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "teardown",
				"error":    err.Error(),
			}).Debug("Channel close failed")
		}
	}
}

// write encodes and sends a handshake envelope. A send failure fails the
// session and returns false.
func (s *Session) write(env *envelope.Envelope) bool {
	frame, err := s.cfg.Codec.Marshal(env)
	if err != nil {
		s.handshakeFailed(fmt.Errorf("encode %s: %w", env.Kind, err))
		return false
	}
	if err := s.channel.Send(frame); err != nil {
		s.fail(fmt.Errorf("%w: send %s: %v", ErrTransport, env.Kind, err))
		return false
	}
	return true
}

func (s *Session) arm(kind timerKind, d time.Duration) {
	s.cancel(kind)
	s.timerSeq++
	token := s.timerSeq
	s.pending[kind] = pendingTimer{
		token: token,
		handle: s.clock.AfterFunc(d, func() {
			select {
			case s.timers <- timerFired{kind: kind, token: token}:
			case <-s.stopped:
			}
		}),
	}
}

func (s *Session) cancel(kind timerKind) {
	p := &s.pending[kind]
	if p.handle != nil {
		p.handle.Stop()
	}
	p.handle = nil
	p.token = 0
}

func (s *Session) system(text string) {
	s.deliver(&Message{
		Origin:    OriginSystem,
		Text:      text,
		Timestamp: s.clock.Now(),
	})
}

func (s *Session) deliver(msg *Message) {
	s.emit(Event{Kind: EventMessage, Message: msg, Encrypted: msg.Encrypted})
}

func (s *Session) emit(ev Event) {
	ev.RemoteID = s.remoteID
	s.events.emit(ev)
}

func (s *Session) setState(next State) {
	logrus.WithFields(logrus.Fields{
		"function":  "setState",
		"remote_id": s.remoteID,
		"from":      s.state.String(),
		"to":        next.String(),
	}).Debug("Session state change")
	s.state = next
	s.publish()
}

func (s *Session) publish() {
	st := Status{
		State:    s.state,
		RemoteID: s.remoteID,
		Role:     s.role,
		Err:      s.err,
	}
	if s.hs != nil {
		st.Handshake = s.hs.State()
		st.Encrypted = s.state == Connected && s.hs.Key() != nil
	}

	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}
