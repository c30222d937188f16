package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// ProxyConfig contains configuration for proxy connections.
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     uint16
	Username string
	Password string
}

// ParseProxyURL parses socks5://[user[:pass]@]host:port or http://host:port.
// An empty string yields a nil config and no error.
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		u.Scheme = "socks5"
	case "http":
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s (must be 'socks5' or 'http')", u.Scheme)
	}

	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid proxy port %q", u.Port())
	}

	cfg := &ProxyConfig{
		Type: u.Scheme,
		Host: u.Hostname(),
		Port: uint16(port),
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// Addr returns host:port of the proxy.
func (c *ProxyConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// URL renders the config as a proxy URL, used for HTTP CONNECT proxies.
func (c *ProxyConfig) URL() *url.URL {
	u := &url.URL{Scheme: c.Type, Host: c.Addr()}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u
}

// Dialer returns a SOCKS5 dialer for the config. HTTP proxies are handled by
// the HTTP client itself and have no dialer.
func (c *ProxyConfig) Dialer() (proxy.Dialer, error) {
	if c.Type != "socks5" {
		return nil, fmt.Errorf("proxy type %s has no stream dialer", c.Type)
	}

	var auth *proxy.Auth
	if c.Username != "" || c.Password != "" {
		auth = &proxy.Auth{
			User:     c.Username,
			Password: c.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", c.Addr(), auth, proxy.Direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ProxyConfig.Dialer",
			"proxy_addr": c.Addr(),
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ProxyConfig.Dialer",
		"proxy_addr": c.Addr(),
		"auth":       auth != nil,
	}).Info("SOCKS5 proxy configured")

	return dialer, nil
}

// DialContextFunc adapts a proxy dialer to the signature used by HTTP and
// WebSocket clients.
func DialContextFunc(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}
