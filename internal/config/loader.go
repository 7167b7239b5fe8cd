package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RFQBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RFQBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Relayer ──
	setStr(&cfg.Relayer.WsURL, "RFQBOT_RELAYER_WS_URL")
	setInt64(&cfg.Relayer.ChainID, "RFQBOT_RELAYER_CHAIN_ID")
	setStr(&cfg.Relayer.Resolver, "RFQBOT_RELAYER_RESOLVER")

	// ── Transport ──
	setDuration(&cfg.Transport.InitialBackoff, "RFQBOT_TRANSPORT_INITIAL_BACKOFF")
	setDuration(&cfg.Transport.MaxBackoff, "RFQBOT_TRANSPORT_MAX_BACKOFF")
	setDuration(&cfg.Transport.Jitter, "RFQBOT_TRANSPORT_JITTER")
	setDuration(&cfg.Transport.HeartbeatInterval, "RFQBOT_TRANSPORT_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Transport.StaleClose, "RFQBOT_TRANSPORT_STALE_CLOSE")
	setDuration(&cfg.Transport.AckTimeout, "RFQBOT_TRANSPORT_ACK_TIMEOUT")

	// ── Auction ──
	setDuration(&cfg.Auction.Debounce, "RFQBOT_AUCTION_DEBOUNCE")
	setDuration(&cfg.Auction.OpenWait, "RFQBOT_AUCTION_OPEN_WAIT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "RFQBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "RFQBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "RFQBOT_WALLET_KEY_PASSWORD")

	// ── Autobid ──
	setBool(&cfg.Autobid.Enabled, "RFQBOT_AUTOBID_ENABLED")
	setFloat64(&cfg.Autobid.MaxBidsPerSecond, "RFQBOT_AUTOBID_MAX_BIDS_PER_SECOND")
	setInt(&cfg.Autobid.Burst, "RFQBOT_AUTOBID_BURST")
	setInt(&cfg.Autobid.PerOrderLimit, "RFQBOT_AUTOBID_PER_ORDER_LIMIT")
	setDuration(&cfg.Autobid.OrderRefresh, "RFQBOT_AUTOBID_ORDER_REFRESH")
	setStr(&cfg.Autobid.DecisionChannel, "RFQBOT_AUTOBID_DECISION_CHANNEL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RFQBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RFQBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RFQBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RFQBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RFQBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RFQBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RFQBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RFQBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RFQBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RFQBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RFQBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RFQBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RFQBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RFQBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RFQBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RFQBOT_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RFQBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RFQBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RFQBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RFQBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "RFQBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RFQBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RFQBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RFQBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RFQBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RFQBOT_MODE")
	setStr(&cfg.LogLevel, "RFQBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
