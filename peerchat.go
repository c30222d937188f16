package peerchat

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/envelope"
	"github.com/opd-ai/peerchat/session"
	"github.com/opd-ai/peerchat/transport"
)

var (
	// ErrPeerNotReady is returned by Connect before the transport peer
	// registered with its broker.
	ErrPeerNotReady = errors.New("transport peer not ready")
	// ErrEmptyRemoteID is returned by Connect without a remote id.
	ErrEmptyRemoteID = errors.New("remote id is empty")
	// ErrSelfConnect is returned by Connect with the client's own id.
	ErrSelfConnect = errors.New("cannot connect to own id")
	// ErrAlreadyConnected is returned by Connect while a session is active.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// Client owns the process identity, supervises one transport peer and runs
// at most one active chat session over it.
type Client struct {
	options  *Options
	identity *crypto.Identity
	codec    envelope.Codec
	factory  transport.PeerFactory
	clock    session.TimeProvider

	mu         sync.Mutex
	peer       transport.Peer
	peerGen    uint64
	peerState  PeerState
	localID    string
	retry      session.Timer
	active     *session.Session
	closed     bool
	wg         sync.WaitGroup
	onSession  func(session.Event)
	onPeer     func(PeerStatus)
	callbackMu sync.RWMutex
}

// New generates the identity, creates the transport peer through factory
// and starts supervising it. Key generation failure is fatal. A factory
// failure is not: the client starts in PeerFailed and retries after
// RetryDelay, as it does for any later peer error.
func New(options *Options, factory transport.PeerFactory) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if factory == nil {
		return nil, errors.New("peer factory is required")
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultRetryDelay
	}

	codec, err := envelope.ByName(options.Codec)
	if err != nil {
		return nil, err
	}

	var identity *crypto.Identity
	if options.Rand != nil {
		identity, err = crypto.GenerateIdentityFrom(options.Rand)
	} else {
		identity, err = crypto.GenerateIdentity()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"error":    err.Error(),
		}).Error("Failed to generate identity")
		return nil, fmt.Errorf("create client: %w", err)
	}

	c := &Client{
		options:   options,
		identity:  identity,
		codec:     codec,
		factory:   factory,
		clock:     options.TimeProvider,
		peerState: PeerConnecting,
	}
	if c.clock == nil {
		c.clock = session.RealTimeProvider{}
	}

	peer, err := factory()
	c.mu.Lock()
	if err != nil {
		c.peerState = PeerFailed
		c.scheduleRecreate(nil)
	} else {
		c.attachPeer(peer)
	}
	c.mu.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "New",
			"error":       err.Error(),
			"retry_delay": options.RetryDelay.String(),
		}).Warn("Failed to create transport peer, will retry")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"fingerprint": identity.FingerprintHex()[:16],
		"codec":       codec.Name(),
		"kdf":         options.KDF.String(),
	}).Info("Client created")
	return c, nil
}

// OnSessionEvent sets the callback receiving events of every session. It
// is called from the session's dispatcher goroutine and may call back into
// the client.
func (c *Client) OnSessionEvent(callback func(session.Event)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onSession = callback
}

// OnPeerStatus sets the callback receiving transport peer status changes.
// It runs on the supervising goroutine and must not call Close.
func (c *Client) OnPeerStatus(callback func(PeerStatus)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onPeer = callback
}

// Fingerprint returns the hex SHA-256 fingerprint of the identity.
func (c *Client) Fingerprint() string {
	return c.identity.FingerprintHex()
}

// LocalID returns the discovery id of the current peer, or "" before the
// peer registered.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// PeerState returns the supervision state of the transport peer.
func (c *Client) PeerState() PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerState
}

// Connect starts a session with remoteID. The dialing side initiates the
// key exchange.
func (c *Client) Connect(remoteID string) error {
	remoteID = strings.TrimSpace(remoteID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.peerState != PeerReady || c.peer == nil {
		c.mu.Unlock()
		return ErrPeerNotReady
	}
	if remoteID == "" {
		c.mu.Unlock()
		return ErrEmptyRemoteID
	}
	if remoteID == c.localID {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSelfConnect, remoteID)
	}
	if c.active != nil && !c.active.Status().State.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, c.active.Status().RemoteID)
	}

	s, err := c.newSession()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.active = s
	peer := c.peer
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Client.Connect",
		"remote_id": remoteID,
	}).Info("Connecting")
	return s.Connect(peer, remoteID)
}

// Send transmits text over the active session.
func (c *Client) Send(text string) (*session.Message, error) {
	s := c.current()
	if s == nil {
		return nil, session.ErrNoActiveConnection
	}
	return s.Send(text)
}

// Disconnect closes the active session, if any.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

// Status returns a snapshot of the active session. The boolean is false if
// no session was ever started or the last one was disconnected.
func (c *Client) Status() (session.Status, bool) {
	s := c.current()
	if s == nil {
		return session.Status{}, false
	}
	return s.Status(), true
}

// Close ends the active session and destroys the transport peer.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.active
	c.active = nil
	peer := c.peer
	c.peer = nil
	c.peerGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
	var err error
	if peer != nil {
		err = peer.Close()
	}
	c.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Client.Close",
	}).Info("Client closed")
	return err
}

func (c *Client) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// newSession must be called with c.mu held. It does not call into the
// session, whose loop reads LocalID under c.mu.
func (c *Client) newSession() (*session.Session, error) {
	return session.New(session.Config{
		Identity:         c.identity,
		LocalID:          c.LocalID,
		Codec:            c.codec,
		KDF:              c.options.KDF,
		ConnectTimeout:   c.options.ConnectTimeout,
		HandshakeTimeout: c.options.HandshakeTimeout,
		TimeProvider:     c.options.TimeProvider,
		Observer:         c.sessionEvent,
	})
}

func (c *Client) sessionEvent(ev session.Event) {
	c.callbackMu.RLock()
	callback := c.onSession
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(ev)
	}
}

func (c *Client) peerStatus(st PeerStatus) {
	c.callbackMu.RLock()
	callback := c.onPeer
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(st)
	}
}
