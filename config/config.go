// Package config loads peerchat configuration from YAML files and
// PEERCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flynn "github.com/flynn/noise"
	"github.com/spf13/viper"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/envelope"
	"github.com/opd-ai/peerchat/noise"
	"github.com/opd-ai/peerchat/session"
	"github.com/opd-ai/peerchat/transport"
)

// EnvPrefix prefixes every environment override, e.g. PEERCHAT_LOG_LEVEL.
const EnvPrefix = "PEERCHAT"

// Config is the root application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Peer    PeerConfig    `mapstructure:"peer"`
	Session SessionConfig `mapstructure:"session"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// RelayConfig configures both the relay client and the relay server.
type RelayConfig struct {
	// URL of the relay WebSocket endpoint used by the chat client.
	URL string `mapstructure:"url"`
	// Proxy is a socks5:// or http:// proxy URL for the client.
	Proxy string `mapstructure:"proxy"`
	// Secure wraps the client link in a Noise NN session.
	Secure bool `mapstructure:"secure"`
	// Key is the relay's hex Noise static public key. Clients pin it
	// (NK); it is ignored by the server.
	Key string `mapstructure:"key"`
	// Listen is the server listen address.
	Listen string `mapstructure:"listen"`
	// PrivateKey is the server's hex Noise static private key. Without it
	// the server only accepts NN and plain links.
	PrivateKey string `mapstructure:"private_key"`
	// RequireSecure makes the server reject plain links.
	RequireSecure bool `mapstructure:"require_secure"`
}

// PeerConfig configures the local transport peer.
type PeerConfig struct {
	// ID requests a discovery id. Empty lets the relay assign one.
	ID         string        `mapstructure:"id"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SessionConfig configures chat sessions.
type SessionConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// KDF: raw or hkdf
	KDF string `mapstructure:"kdf"`
	// Codec: json or cbor
	Codec string `mapstructure:"codec"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Relay: RelayConfig{
			URL:    "ws://127.0.0.1:8080/",
			Listen: ":8080",
		},
		Peer: PeerConfig{
			RetryDelay: 3 * time.Second,
		},
		Session: SessionConfig{
			ConnectTimeout:   session.DefaultConnectTimeout,
			HandshakeTimeout: session.DefaultHandshakeTimeout,
			KDF:              crypto.KDFRaw.String(),
			Codec:            "json",
		},
	}
}

// Load reads configuration from path if non-empty, otherwise from
// $PEERCHAT_CONFIG or peerchat.yaml in the working directory or
// ~/.peerchat. A missing file is not an error. Environment variables
// override file values; "." and "-" in keys become "_".
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peerchat")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".peerchat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("relay.url", cfg.Relay.URL)
	v.SetDefault("relay.proxy", cfg.Relay.Proxy)
	v.SetDefault("relay.secure", cfg.Relay.Secure)
	v.SetDefault("relay.key", cfg.Relay.Key)
	v.SetDefault("relay.listen", cfg.Relay.Listen)
	v.SetDefault("relay.private_key", cfg.Relay.PrivateKey)
	v.SetDefault("relay.require_secure", cfg.Relay.RequireSecure)
	v.SetDefault("peer.id", cfg.Peer.ID)
	v.SetDefault("peer.retry_delay", cfg.Peer.RetryDelay)
	v.SetDefault("session.connect_timeout", cfg.Session.ConnectTimeout)
	v.SetDefault("session.handshake_timeout", cfg.Session.HandshakeTimeout)
	v.SetDefault("session.kdf", cfg.Session.KDF)
	v.SetDefault("session.codec", cfg.Session.Codec)
}

// Validate normalizes c and rejects values no component accepts.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if _, err := crypto.ParseKDF(c.Session.KDF); err != nil {
		return fmt.Errorf("invalid session.kdf: %w", err)
	}
	if _, err := envelope.ByName(c.Session.Codec); err != nil {
		return fmt.Errorf("invalid session.codec: %w", err)
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid session.connect_timeout: %s", c.Session.ConnectTimeout)
	}
	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid session.handshake_timeout: %s", c.Session.HandshakeTimeout)
	}
	if c.Peer.RetryDelay <= 0 {
		return fmt.Errorf("invalid peer.retry_delay: %s", c.Peer.RetryDelay)
	}

	if _, err := transport.ParseProxyURL(c.Relay.Proxy); err != nil {
		return fmt.Errorf("invalid relay.proxy: %w", err)
	}
	if _, err := c.Relay.PublicKey(); err != nil {
		return err
	}
	if _, err := c.Relay.StaticKey(); err != nil {
		return err
	}
	return nil
}

// PublicKey decodes Key, returning nil when it is unset.
func (r RelayConfig) PublicKey() ([]byte, error) {
	if r.Key == "" {
		return nil, nil
	}
	key, err := noise.ParsePublicKeyHex(r.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid relay.key: %w", err)
	}
	return key, nil
}

// StaticKey decodes PrivateKey, returning nil when it is unset.
func (r RelayConfig) StaticKey() (*flynn.DHKey, error) {
	if r.PrivateKey == "" {
		return nil, nil
	}
	key, err := noise.StaticKeyFromHex(r.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid relay.private_key: %w", err)
	}
	return &key, nil
}
