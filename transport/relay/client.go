package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/noise"
	"github.com/opd-ai/peerchat/transport"
)

const (
	// DefaultDialTimeout bounds the WebSocket and Noise handshakes.
	DefaultDialTimeout = 10 * time.Second
	// writeTimeout bounds a single WebSocket write.
	writeTimeout = 5 * time.Second
	// DefaultPingInterval is how often each end of a relay link pings the
	// other. A link that stays silent for two intervals is considered dead.
	DefaultPingInterval = 30 * time.Second
)

// ClientOptions configures a relay Client.
type ClientOptions struct {
	// URL of the relay WebSocket endpoint, ws:// or wss://.
	URL string
	// ID requests a specific discovery id. Empty lets the relay pick one.
	ID string
	// Proxy routes the WebSocket through SOCKS5 or HTTP CONNECT.
	Proxy *transport.ProxyConfig
	// Secure wraps the link in a Noise session.
	Secure bool
	// RelayKey pins the relay's Noise static key, selecting PatternNK.
	// Implies Secure.
	RelayKey []byte
	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
	// PingInterval defaults to DefaultPingInterval.
	PingInterval time.Duration
}

func (o ClientOptions) pattern() (noise.Pattern, bool) {
	switch {
	case len(o.RelayKey) > 0:
		return noise.PatternNK, true
	case o.Secure:
		return noise.PatternNN, true
	default:
		return "", false
	}
}

// Client is a transport.Peer registered with a relay Server.
type Client struct {
	opts   ClientOptions
	events *transport.Queue[transport.PeerEvent]

	mu       sync.Mutex
	id       string
	link     *link
	channels map[string]*channel
	closed   bool
}

// link is one WebSocket connection to the relay.
type link struct {
	ws       *websocket.Conn
	noise    *noise.Link
	interval time.Duration
	writeMu  sync.Mutex
	done     chan struct{}
	once     sync.Once
}

func newLink(ws *websocket.Conn, interval time.Duration) *link {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &link{ws: ws, interval: interval, done: make(chan struct{})}
}

func (l *link) write(f *Frame) error {
	msg, err := encodeFrame(f, l.noise)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return l.ws.WriteMessage(websocket.BinaryMessage, msg)
}

func (l *link) ping() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// watch arms the read deadline and extends it on every pong. Reads fail
// once the far end has been silent for two ping intervals.
func (l *link) watch() error {
	l.ws.SetPongHandler(func(string) error { return l.extend() })
	return l.extend()
}

func (l *link) extend() error {
	return l.ws.SetReadDeadline(time.Now().Add(2 * l.interval))
}

// keepalive pings until the link closes.
func (l *link) keepalive() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.ping(); err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.ws.Close()
	})
}

// Dial connects to the relay and starts reading. PeerOpen is reported once
// the relay assigned the id.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	c := &Client{
		opts:     opts,
		events:   transport.NewQueue[transport.PeerEvent](),
		channels: make(map[string]*channel),
	}

	l, err := c.connect(ctx, opts.ID)
	if err != nil {
		c.events.Close()
		return nil, err
	}

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
	go c.readLoop(l)
	go l.keepalive()
	return c, nil
}

// Factory returns a PeerFactory dialing the relay with opts.
func Factory(opts ClientOptions) transport.PeerFactory {
	return func() (transport.Peer, error) {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(opts))
		defer cancel()
		return Dial(ctx, opts)
	}
}

func dialTimeout(opts ClientOptions) time.Duration {
	if opts.DialTimeout > 0 {
		return opts.DialTimeout
	}
	return DefaultDialTimeout
}

func (c *Client) connect(ctx context.Context, id string) (*link, error) {
	target, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := target.Query()
	if id != "" {
		q.Set("id", id)
	}
	pattern, secure := c.opts.pattern()
	if secure {
		q.Set("noise", string(pattern))
	}
	target.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.DialTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if p := c.opts.Proxy; p != nil {
		switch p.Type {
		case "socks5":
			pd, err := p.Dialer()
			if err != nil {
				return nil, err
			}
			dialer.Proxy = nil
			dialer.NetDialContext = transport.DialContextFunc(pd)
		case "http":
			dialer.Proxy = http.ProxyURL(p.URL())
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.connect",
		"url":      c.opts.URL,
		"id":       id,
		"noise":    string(pattern),
	}).Info("Connecting to relay")

	ws, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial relay: %v", ErrRelay, err)
	}
	ws.SetReadLimit(limits.MaxProcessingBuffer)

	l := newLink(ws, c.opts.PingInterval)
	if secure {
		nl, err := c.handshake(ws, pattern)
		if err != nil {
			ws.Close()
			return nil, err
		}
		l.noise = nl
	}
	return l, nil
}

// handshake runs the client side of the Noise handshake over ws.
func (c *Client) handshake(ws *websocket.Conn, pattern noise.Pattern) (*noise.Link, error) {
	deadline := time.Now().Add(c.opts.DialTimeout)
	if err := ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer ws.SetReadDeadline(time.Time{})

	hs, err := noise.NewHandshake(pattern, noise.Initiator, nil, c.opts.RelayKey)
	if err != nil {
		return nil, err
	}

	msg1, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, msg1); err != nil {
		return nil, fmt.Errorf("%w: send noise handshake: %v", ErrRelay, err)
	}

	_, msg2, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read noise handshake: %v", ErrRelay, err)
	}
	if _, err := hs.ReadMessage(msg2); err != nil {
		return nil, fmt.Errorf("%w: noise handshake: %v", ErrRelay, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.handshake",
		"pattern":  string(pattern),
	}).Debug("Relay link secured")
	return hs.Link()
}

// ID returns the discovery id assigned by the relay.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Events returns the peer event stream.
func (c *Client) Events() <-chan transport.PeerEvent {
	return c.events.Out()
}

// Dial opens a channel to remoteID through the relay.
func (c *Client) Dial(remoteID string) (transport.Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrPeerClosed
	}
	l := c.link
	if l == nil {
		c.mu.Unlock()
		return nil, ErrLinkClosed
	}
	ch := newChannel(c, uuid.New().String(), remoteID)
	c.channels[ch.connID] = ch
	c.mu.Unlock()

	if err := l.write(&Frame{Type: FrameConnect, Peer: remoteID, Conn: ch.connID}); err != nil {
		c.forget(ch.connID)
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrRelay, remoteID, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Client.Dial",
		"remote_id": remoteID,
		"conn":      ch.connID,
	}).Debug("Connect requested")
	return ch, nil
}

// Reconnect replaces the relay link, keeping the current id if possible.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrPeerClosed
	}
	old := c.link
	c.link = nil
	channels := c.channels
	c.channels = make(map[string]*channel)
	id := c.id
	if id == "" {
		id = c.opts.ID
	}
	c.mu.Unlock()

	if old != nil {
		old.close()
	}
	for _, ch := range channels {
		ch.finish(transport.Event{Type: transport.EventError, Err: ErrLinkClosed})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()
	l, err := c.connect(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.close()
		return transport.ErrPeerClosed
	}
	c.link = l
	c.mu.Unlock()

	go c.readLoop(l)
	go l.keepalive()
	return nil
}

// Close destroys the client and every channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	channels := c.channels
	c.channels = make(map[string]*channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	if l != nil {
		l.close()
	}
	c.events.Close()
	return nil
}

func (c *Client) readLoop(l *link) {
	defer l.close()

	if err := l.watch(); err != nil {
		c.linkLost(l, err)
		return
	}
	for {
		_, msg, err := l.ws.ReadMessage()
		if err == nil {
			err = l.extend()
		}
		if err != nil {
			c.linkLost(l, err)
			return
		}
		if err := limits.ValidateProcessingBuffer(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readLoop",
				"error":    err.Error(),
			}).Warn("Dropping relay message")
			continue
		}

		f, err := decodeFrame(msg, l.noise)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readLoop",
				"error":    err.Error(),
			}).Warn("Dropping undecodable relay frame")
			if errors.Is(err, noise.ErrLinkMessage) {
				c.linkLost(l, err)
				return
			}
			continue
		}
		c.handleFrame(l, f)
	}
}

func (c *Client) handleFrame(l *link, f *Frame) {
	switch f.Type {
	case FrameOpen:
		c.mu.Lock()
		c.id = f.ID
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleFrame",
			"id":       f.ID,
		}).Info("Registered with relay")
		c.events.Push(transport.PeerEvent{Type: transport.PeerOpen, ID: f.ID})

	case FrameOffer:
		ch := newChannel(c, f.Conn, f.Peer)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.channels[f.Conn] = ch
		c.mu.Unlock()

		if err := l.write(&Frame{Type: FrameAccept, Peer: f.Peer, Conn: f.Conn}); err != nil {
			c.forget(f.Conn)
			return
		}
		c.events.Push(transport.PeerEvent{Type: transport.PeerConnection, ID: c.ID(), Channel: ch})
		ch.opened()

	case FrameAccept:
		if ch := c.lookup(f.Conn); ch != nil {
			ch.opened()
		}

	case FrameData:
		if ch := c.lookup(f.Conn); ch != nil {
			ch.deliver(f.Data)
		}

	case FrameClose:
		if ch := c.forget(f.Conn); ch != nil {
			ch.finish(transport.Event{Type: transport.EventClose})
		}

	case FrameError:
		c.handleError(f)

	default:
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleFrame",
			"type":     string(f.Type),
		}).Debug("Ignoring unknown relay frame")
	}
}

func (c *Client) handleError(f *Frame) {
	var err error
	switch f.Error {
	case CodePeerUnavailable:
		err = fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, f.Peer)
	case CodeUnavailableID:
		err = fmt.Errorf("%w: %s", ErrIDUnavailable, f.ID)
	default:
		err = fmt.Errorf("%w: %s", ErrRelay, f.Error)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.handleError",
		"conn":     f.Conn,
		"error":    err.Error(),
	}).Warn("Relay reported an error")

	if f.Conn != "" {
		if ch := c.forget(f.Conn); ch != nil {
			ch.finish(transport.Event{Type: transport.EventError, Err: err})
		}
		return
	}
	c.events.Push(transport.PeerEvent{Type: transport.PeerError, ID: c.ID(), Err: err})
}

// linkLost fails every channel and reports PeerDisconnected, unless the
// link was replaced or closed on purpose.
func (c *Client) linkLost(l *link, cause error) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		return
	}
	channels := c.channels
	c.channels = make(map[string]*channel)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.linkLost",
		"channels": len(channels),
		"error":    cause.Error(),
	}).Warn("Relay link lost")

	err := fmt.Errorf("%w: %v", ErrLinkClosed, cause)
	for _, ch := range channels {
		ch.finish(transport.Event{Type: transport.EventError, Err: err})
	}
	c.events.Push(transport.PeerEvent{Type: transport.PeerDisconnected, ID: c.ID(), Err: err})
}

func (c *Client) lookup(connID string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[connID]
}

func (c *Client) forget(connID string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[connID]
	delete(c.channels, connID)
	return ch
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

var _ transport.Peer = (*Client)(nil)

// channel is a relayed transport.Channel.
type channel struct {
	client   *Client
	connID   string
	remoteID string
	events   *transport.Queue[transport.Event]

	mu     sync.Mutex
	open   bool
	closed bool
}

func newChannel(c *Client, connID, remoteID string) *channel {
	return &channel{
		client:   c,
		connID:   connID,
		remoteID: remoteID,
		events:   transport.NewQueue[transport.Event](),
	}
}

func (ch *channel) RemoteID() string { return ch.remoteID }

func (ch *channel) Events() <-chan transport.Event { return ch.events.Out() }

func (ch *channel) Send(data []byte) error {
	ch.mu.Lock()
	closed, open := ch.closed, ch.open
	ch.mu.Unlock()
	switch {
	case closed:
		return transport.ErrChannelClosed
	case !open:
		return transport.ErrChannelNotOpen
	}
	if err := limits.ValidateFrame(data); err != nil {
		return err
	}

	l := ch.client.currentLink()
	if l == nil {
		return transport.ErrChannelClosed
	}
	return l.write(&Frame{Type: FrameData, Peer: ch.remoteID, Conn: ch.connID, Data: data})
}

func (ch *channel) Close() error {
	if !ch.finish(transport.Event{Type: transport.EventClose}) {
		return nil
	}
	ch.client.forget(ch.connID)
	if l := ch.client.currentLink(); l != nil {
		if err := l.write(&Frame{Type: FrameClose, Peer: ch.remoteID, Conn: ch.connID}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "channel.Close",
				"conn":     ch.connID,
				"error":    err.Error(),
			}).Debug("Close notification not delivered")
		}
	}
	return nil
}

func (ch *channel) opened() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.open || ch.closed {
		return
	}
	ch.open = true
	ch.events.Push(transport.Event{Type: transport.EventOpen})
}

func (ch *channel) deliver(data []byte) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.events.Push(transport.Event{Type: transport.EventData, Data: data})
}

// finish ends the event stream with ev. It reports whether this call did it.
func (ch *channel) finish(ev transport.Event) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.closed = true
	ch.open = false
	ch.events.PushFinal(ev)
	return true
}
