// Package config defines the top-level configuration for the auction RFQ bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RFQBOT_* environment variables.
type Config struct {
	Relayer   RelayerConfig   `toml:"relayer"`
	Transport TransportConfig `toml:"transport"`
	Auction   AuctionConfig   `toml:"auction"`
	Wallet    WalletConfig    `toml:"wallet"`
	Autobid   AutobidConfig   `toml:"autobid"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RelayerConfig identifies the auction relayer and the chain it settles on.
type RelayerConfig struct {
	WsURL    string `toml:"ws_url"`
	ChainID  int64  `toml:"chain_id"`
	Resolver string `toml:"resolver"`
}

// TransportConfig tunes the resilient websocket.
type TransportConfig struct {
	InitialBackoff    duration `toml:"initial_backoff"`
	MaxBackoff        duration `toml:"max_backoff"`
	Jitter            duration `toml:"jitter"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	StaleClose        duration `toml:"stale_close"`
	AckTimeout        duration `toml:"ack_timeout"`
	HandshakeTimeout  duration `toml:"handshake_timeout"`
	WriteWait         duration `toml:"write_wait"`
}

// AuctionConfig tunes the quote session.
type AuctionConfig struct {
	Debounce duration `toml:"debounce"`
	OpenWait duration `toml:"open_wait"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether any key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// AutobidConfig tunes the auto-bid loop.
type AutobidConfig struct {
	Enabled          bool     `toml:"enabled"`
	MaxBidsPerSecond float64  `toml:"max_bids_per_second"`
	Burst            int      `toml:"burst"`
	DedupTTL         duration `toml:"dedup_ttl"`
	LockTTL          duration `toml:"lock_ttl"`
	OrderRefresh     duration `toml:"order_refresh"`
	BidTTL           duration `toml:"bid_ttl"`
	PerOrderLimit    int      `toml:"per_order_limit"`
	PerOrderWindow   duration `toml:"per_order_window"`
	DecisionChannel  string   `toml:"decision_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per minute per client IP, needs Redis
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Relayer: RelayerConfig{
			WsURL:   "wss://relayer.example.invalid/ws",
			ChainID: 42161,
		},
		Transport: TransportConfig{
			InitialBackoff:    duration{400 * time.Millisecond},
			MaxBackoff:        duration{30 * time.Second},
			Jitter:            duration{250 * time.Millisecond},
			HeartbeatInterval: duration{25 * time.Second},
			StaleClose:        duration{60 * time.Second},
			AckTimeout:        duration{5 * time.Second},
			HandshakeTimeout:  duration{15 * time.Second},
			WriteWait:         duration{10 * time.Second},
		},
		Auction: AuctionConfig{
			Debounce: duration{400 * time.Millisecond},
			OpenWait: duration{time.Second},
		},
		Autobid: AutobidConfig{
			Enabled:          false,
			MaxBidsPerSecond: 5,
			Burst:            10,
			DedupTTL:         duration{10 * time.Minute},
			LockTTL:          duration{30 * time.Second},
			OrderRefresh:     duration{30 * time.Second},
			BidTTL:           duration{60 * time.Second},
			PerOrderLimit:    0,
			PerOrderWindow:   duration{time.Minute},
			DecisionChannel:  "rfq:decisions",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "rfq",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"bid_decision", "order_auto_paused", "ack_timeout"},
		},
		Mode:     "quote",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"quote":   true,
	"autobid": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsStores reports whether the mode runs the auto-bid loop and therefore
// needs PostgreSQL and Redis.
func (c *Config) NeedsStores() bool {
	m := strings.ToLower(c.Mode)
	return m == "autobid" || (m == "full" && c.Autobid.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: quote, autobid, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Relayer
	if c.Relayer.WsURL == "" {
		errs = append(errs, "relayer: ws_url must not be empty")
	} else if !strings.HasPrefix(c.Relayer.WsURL, "ws://") && !strings.HasPrefix(c.Relayer.WsURL, "wss://") {
		errs = append(errs, fmt.Sprintf("relayer: ws_url must use ws:// or wss://, got %q", c.Relayer.WsURL))
	}
	if c.Relayer.ChainID <= 0 {
		errs = append(errs, "relayer: chain_id must be positive")
	}

	// Transport
	t := c.Transport
	if t.InitialBackoff.Duration <= 0 {
		errs = append(errs, "transport: initial_backoff must be > 0")
	}
	if t.MaxBackoff.Duration < t.InitialBackoff.Duration {
		errs = append(errs, "transport: max_backoff must be >= initial_backoff")
	}
	if t.Jitter.Duration < 0 {
		errs = append(errs, "transport: jitter must be >= 0")
	}
	if t.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "transport: heartbeat_interval must be > 0")
	}
	if t.StaleClose.Duration <= t.HeartbeatInterval.Duration {
		errs = append(errs, "transport: stale_close must exceed heartbeat_interval")
	}
	if t.AckTimeout.Duration <= 0 {
		errs = append(errs, "transport: ack_timeout must be > 0")
	}

	// Auction
	if c.Auction.Debounce.Duration < 0 {
		errs = append(errs, "auction: debounce must be >= 0")
	}
	if c.Auction.OpenWait.Duration <= 0 {
		errs = append(errs, "auction: open_wait must be > 0")
	}

	// Wallet. The auto-bid loop signs every bid.
	if c.NeedsStores() && !c.Wallet.HasKey() {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.NeedsStores() {
		// Autobid
		if c.Autobid.MaxBidsPerSecond < 0 {
			errs = append(errs, "autobid: max_bids_per_second must be >= 0")
		}
		if c.Autobid.MaxBidsPerSecond > 0 && c.Autobid.Burst < 1 {
			errs = append(errs, "autobid: burst must be >= 1")
		}
		if c.Autobid.PerOrderLimit < 0 {
			errs = append(errs, "autobid: per_order_limit must be >= 0")
		}
		if c.Autobid.DecisionChannel == "" {
			errs = append(errs, "autobid: decision_channel must not be empty")
		}

		// Postgres
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
