package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/limits"
	pnoise "github.com/opd-ai/peerchat/noise"
)

// ServerOptions configures a relay Server.
type ServerOptions struct {
	// StaticKey enables PatternNK links. Without it only NN and plain links
	// are accepted.
	StaticKey *noise.DHKey
	// RequireSecure rejects clients that do not run a Noise handshake.
	RequireSecure bool
	// HandshakeTimeout bounds the Noise handshake. Defaults to
	// DefaultDialTimeout.
	HandshakeTimeout time.Duration
	// PingInterval defaults to DefaultPingInterval. Clients silent for two
	// intervals are dropped and their id is released.
	PingInterval time.Duration
	// CheckOrigin is passed to the WebSocket upgrader. Nil accepts every
	// origin, since peers are native clients.
	CheckOrigin func(r *http.Request) bool
}

// Server is the signaling relay. It assigns discovery ids and forwards
// channel frames between registered clients. It never sees chat plaintext
// once sessions are encrypted.
type Server struct {
	opts     ServerOptions
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[string]*serverPeer
	routes map[string]route
	closed bool
}

// route records the two ends of a relayed connection.
type route struct {
	dialer string
	target string
}

func (r route) other(id string) (string, bool) {
	switch id {
	case r.dialer:
		return r.target, true
	case r.target:
		return r.dialer, true
	default:
		return "", false
	}
}

type serverPeer struct {
	id   string
	link *link
}

// NewServer creates a relay.
func NewServer(opts ServerOptions) *Server {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultDialTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		peers:  make(map[string]*serverPeer),
		routes: make(map[string]route),
	}
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern := pnoise.Pattern(q.Get("noise"))

	if pattern == "" && s.opts.RequireSecure {
		http.Error(w, "noise link required", http.StatusForbidden)
		return
	}
	if pattern != "" {
		if _, err := pnoise.ParsePattern(string(pattern)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if pattern == pnoise.PatternNK && s.opts.StaticKey == nil {
			http.Error(w, "relay has no static key", http.StatusBadRequest)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(limits.MaxProcessingBuffer)

	l := newLink(ws, s.opts.PingInterval)
	defer l.close()

	if pattern != "" {
		nl, err := s.handshake(ws, pattern)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.ServeHTTP",
				"remote":   r.RemoteAddr,
				"pattern":  string(pattern),
				"error":    err.Error(),
			}).Warn("Noise handshake failed")
			return
		}
		l.noise = nl
	}

	peer, ok := s.register(q.Get("id"), l)
	if !ok {
		_ = l.write(&Frame{Type: FrameError, ID: q.Get("id"), Error: CodeUnavailableID})
		return
	}
	defer s.unregister(peer)

	if err := l.write(&Frame{Type: FrameOpen, ID: peer.id}); err != nil {
		return
	}
	if err := l.watch(); err != nil {
		return
	}
	go l.keepalive()
	s.serve(peer)
}

func (s *Server) handshake(ws *websocket.Conn, pattern pnoise.Pattern) (*pnoise.Link, error) {
	if err := ws.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return nil, err
	}
	defer ws.SetReadDeadline(time.Time{})

	hs, err := pnoise.NewHandshake(pattern, pnoise.Responder, s.opts.StaticKey, nil)
	if err != nil {
		return nil, err
	}

	_, msg1, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if _, err := hs.ReadMessage(msg1); err != nil {
		return nil, err
	}
	msg2, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, msg2); err != nil {
		return nil, err
	}
	return hs.Link()
}

// register claims id, or a fresh uuid when id is empty.
func (s *Server) register(id string, l *link) (*serverPeer, bool) {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if _, taken := s.peers[id]; taken {
		logrus.WithFields(logrus.Fields{
			"function": "Server.register",
			"id":       id,
		}).Warn("Requested id already registered")
		return nil, false
	}

	p := &serverPeer{id: id, link: l}
	s.peers[id] = p

	logrus.WithFields(logrus.Fields{
		"function": "Server.register",
		"id":       id,
		"secure":   l.noise != nil,
		"peers":    len(s.peers),
	}).Info("Peer registered")
	return p, true
}

// unregister removes p and closes every route it was part of.
func (s *Server) unregister(p *serverPeer) {
	s.mu.Lock()
	if s.peers[p.id] != p {
		s.mu.Unlock()
		return
	}
	delete(s.peers, p.id)
	var notify []func()
	for connID, r := range s.routes {
		other, ok := r.other(p.id)
		if !ok {
			continue
		}
		delete(s.routes, connID)
		if op, ok := s.peers[other]; ok {
			frame := &Frame{Type: FrameClose, Peer: p.id, Conn: connID}
			notify = append(notify, func() { _ = op.link.write(frame) })
		}
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.unregister",
		"id":       p.id,
		"closed":   len(notify),
	}).Info("Peer left")
}

func (s *Server) serve(p *serverPeer) {
	for {
		_, msg, err := p.link.ws.ReadMessage()
		if err == nil {
			err = p.link.extend()
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.serve",
				"id":       p.id,
				"error":    err.Error(),
			}).Debug("Peer link ended")
			return
		}
		if err := limits.ValidateProcessingBuffer(msg); err != nil {
			_ = p.link.write(&Frame{Type: FrameError, Error: CodeInvalidFrame})
			continue
		}

		f, err := decodeFrame(msg, p.link.noise)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.serve",
				"id":       p.id,
				"error":    err.Error(),
			}).Warn("Dropping undecodable frame")
			if p.link.noise != nil {
				return
			}
			_ = p.link.write(&Frame{Type: FrameError, Error: CodeInvalidFrame})
			continue
		}
		s.route(p, f)
	}
}

func (s *Server) route(p *serverPeer, f *Frame) {
	switch f.Type {
	case FrameConnect:
		s.connect(p, f)
	case FrameAccept, FrameData, FrameClose:
		s.forward(p, f)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Server.route",
			"id":       p.id,
			"type":     string(f.Type),
		}).Debug("Ignoring frame")
	}
}

func (s *Server) connect(p *serverPeer, f *Frame) {
	s.mu.Lock()
	target, ok := s.peers[f.Peer]
	_, exists := s.routes[f.Conn]
	if ok && !exists && f.Conn != "" && f.Peer != p.id {
		s.routes[f.Conn] = route{dialer: p.id, target: f.Peer}
	}
	s.mu.Unlock()

	if !ok || exists || f.Conn == "" || f.Peer == p.id {
		logrus.WithFields(logrus.Fields{
			"function": "Server.connect",
			"from":     p.id,
			"to":       f.Peer,
		}).Debug("Connect target unavailable")
		_ = p.link.write(&Frame{Type: FrameError, Peer: f.Peer, Conn: f.Conn, Error: CodePeerUnavailable})
		return
	}

	if err := target.link.write(&Frame{Type: FrameOffer, Peer: p.id, Conn: f.Conn}); err != nil {
		s.dropRoute(f.Conn)
		_ = p.link.write(&Frame{Type: FrameError, Peer: f.Peer, Conn: f.Conn, Error: CodePeerUnavailable})
	}
}

// forward relays accept, data and close frames to the other end of Conn,
// rewriting Peer to the sender.
func (s *Server) forward(p *serverPeer, f *Frame) {
	s.mu.Lock()
	r, ok := s.routes[f.Conn]
	var target *serverPeer
	if ok {
		if other, party := r.other(p.id); party {
			target = s.peers[other]
		}
	}
	if f.Type == FrameClose && target != nil {
		delete(s.routes, f.Conn)
	}
	s.mu.Unlock()

	if target == nil {
		return
	}
	out := &Frame{Type: f.Type, Peer: p.id, Conn: f.Conn, Data: f.Data}
	if err := target.link.write(out); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.forward",
			"from":     p.id,
			"to":       target.id,
			"error":    err.Error(),
		}).Debug("Forward failed")
	}
}

func (s *Server) dropRoute(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, connID)
}

// Peers returns how many clients are registered.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Disconnect drops the client registered as id and closes its routes.
// It reports whether such a client existed.
func (s *Server) Disconnect(id string) bool {
	s.mu.Lock()
	p, ok := s.peers[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.unregister(p)
	p.link.close()
	return true
}

// Close disconnects every client and rejects new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	peers := make([]*serverPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.link.close()
	}
	return nil
}
