package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/session"
	"github.com/opd-ai/peerchat/transport"
	"github.com/opd-ai/peerchat/transport/relay"
)

const chatHelp = `Commands:
  /connect <id>   start a session with a peer
  /disconnect     close the current session
  /id             show your discovery id
  /fingerprint    show your key fingerprint
  /quit           exit
Anything else is sent to the connected peer.`

func chatCmd() *cobra.Command {
	var (
		id       string
		relayURL string
		proxyURL string
		secure   bool
		relayKey string
	)

	cmd := &cobra.Command{
		Use:   "chat [remote-id]",
		Short: "Chat with a peer through the relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("id") {
				cfg.Peer.ID = id
			}
			if flags.Changed("relay") {
				cfg.Relay.URL = relayURL
			}
			if flags.Changed("proxy") {
				cfg.Relay.Proxy = proxyURL
			}
			if flags.Changed("secure") {
				cfg.Relay.Secure = secure
			}
			if flags.Changed("relay-key") {
				cfg.Relay.Key = relayKey
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			clientOpts, err := relayClientOptions()
			if err != nil {
				return err
			}
			options, err := clientOptions()
			if err != nil {
				return err
			}

			client, err := peerchat.New(options, relay.Factory(clientOpts))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var initial string
			if len(args) == 1 {
				initial = args[0]
			}
			return runChat(ctx, client, initial, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "request this discovery id")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay WebSocket URL")
	cmd.Flags().StringVar(&proxyURL, "proxy", "", "socks5:// or http:// proxy for the relay link")
	cmd.Flags().BoolVar(&secure, "secure", false, "encrypt the relay link with Noise")
	cmd.Flags().StringVar(&relayKey, "relay-key", "", "pin the relay's hex Noise public key")
	return cmd
}

func clientOptions() (*peerchat.Options, error) {
	kdf, err := crypto.ParseKDF(cfg.Session.KDF)
	if err != nil {
		return nil, err
	}
	options := peerchat.NewOptions()
	options.Codec = cfg.Session.Codec
	options.KDF = kdf
	options.ConnectTimeout = cfg.Session.ConnectTimeout
	options.HandshakeTimeout = cfg.Session.HandshakeTimeout
	options.RetryDelay = cfg.Peer.RetryDelay
	return options, nil
}

func relayClientOptions() (relay.ClientOptions, error) {
	proxy, err := transport.ParseProxyURL(cfg.Relay.Proxy)
	if err != nil {
		return relay.ClientOptions{}, err
	}
	key, err := cfg.Relay.PublicKey()
	if err != nil {
		return relay.ClientOptions{}, err
	}
	return relay.ClientOptions{
		URL:      cfg.Relay.URL,
		ID:       cfg.Peer.ID,
		Proxy:    proxy,
		Secure:   cfg.Relay.Secure,
		RelayKey: key,
	}, nil
}

// chatClient is the part of peerchat.Client the chat loop drives.
type chatClient interface {
	Connect(remoteID string) error
	Disconnect() error
	Send(text string) (*session.Message, error)
	LocalID() string
	Fingerprint() string
	OnSessionEvent(func(session.Event))
	OnPeerStatus(func(peerchat.PeerStatus))
}

// printer serializes writes from the input loop and the callbacks.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) println(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// runChat reads commands and messages from in until /quit, EOF or ctx ends.
func runChat(ctx context.Context, c chatClient, initial string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{out: out}
	ready := make(chan struct{})
	var readyOnce sync.Once

	c.OnPeerStatus(func(st peerchat.PeerStatus) {
		switch st.State {
		case peerchat.PeerReady:
			p.println("* Your id: %s", st.ID)
			readyOnce.Do(func() { close(ready) })
		case peerchat.PeerFailed, peerchat.PeerReconnecting:
			if st.Err != nil {
				p.println("* Relay %s: %v", st.State, st.Err)
			} else {
				p.println("* Relay %s", st.State)
			}
		}
	})
	c.OnSessionEvent(func(ev session.Event) {
		if line := formatEvent(ev); line != "" {
			p.println("%s", line)
		}
	})

	p.println("* Fingerprint: %s", groupFingerprint(c.Fingerprint()))
	if initial != "" {
		select {
		case <-ready:
			if err := c.Connect(initial); err != nil {
				p.println("! %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(c, p, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line. It reports whether the user quit.
func handleLine(c chatClient, p *printer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := c.Send(line); err != nil {
			p.println("! %v", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/connect":
		if len(fields) != 2 {
			p.println("! usage: /connect <id>")
			return false
		}
		if err := c.Connect(fields[1]); err != nil {
			p.println("! %v", err)
		}
	case "/disconnect":
		if err := c.Disconnect(); err != nil {
			p.println("! %v", err)
		}
	case "/id":
		p.println("* Your id: %s", c.LocalID())
	case "/fingerprint":
		p.println("* Fingerprint: %s", groupFingerprint(c.Fingerprint()))
	case "/quit", "/exit":
		return true
	case "/help":
		p.println("%s", chatHelp)
	default:
		p.println("! unknown command %s, try /help", fields[0])
	}
	return false
}

// formatEvent renders a session event as one line, or "" to skip it.
func formatEvent(ev session.Event) string {
	switch ev.Kind {
	case session.EventConnecting:
		return fmt.Sprintf("* Connecting to %s...", ev.RemoteID)
	case session.EventHandshake:
		return "* " + ev.Text
	case session.EventError:
		return fmt.Sprintf("! %v", ev.Err)
	case session.EventMessage:
		m := ev.Message
		lock := " "
		if m.Encrypted {
			lock = "🔒"
		}
		ts := m.Timestamp.Format("15:04")
		switch m.Origin {
		case session.OriginLocal:
			return fmt.Sprintf("[%s] %s you: %s", ts, lock, m.Text)
		case session.OriginRemote:
			return fmt.Sprintf("[%s] %s %s: %s", ts, lock, ev.RemoteID, m.Text)
		default:
			return fmt.Sprintf("* %s", m.Text)
		}
	default:
		return ""
	}
}

var _ chatClient = (*peerchat.Client)(nil)
