package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/auctionrfq/internal/cache/redis"
	"github.com/alanyoungcy/auctionrfq/internal/config"
	"github.com/alanyoungcy/auctionrfq/internal/crypto"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/notify"
	"github.com/alanyoungcy/auctionrfq/internal/server/handler"
	"github.com/alanyoungcy/auctionrfq/internal/store/postgres"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry *prometheus.Registry

	// Relayer connection
	Transport   *transport.Client
	Environment *transport.ManualEnvironment

	// Wallet; nil when no key is configured
	Signer *crypto.Signer

	// Stores; nil unless the mode runs the auto-bid loop
	OrderStore    domain.OrderStore
	DecisionStore domain.DecisionStore

	// Redis; nil unless the mode runs the auto-bid loop
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	Notifier *notify.Notifier

	// Health checks keyed by dependency name.
	Checks map[string]handler.Pinger
}

// Wire constructs the concrete dependencies from cfg and returns them with
// a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Checks:   make(map[string]handler.Pinger),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Wallet ---
	if cfg.Wallet.HasKey() {
		key, err := crypto.LoadKey(cfg.Wallet.PrivateKey, cfg.Wallet.EncryptedKeyPath, cfg.Wallet.KeyPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Relayer.ChainID)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))
	}

	if cfg.NeedsStores() {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

		// --- Redis ---
		rdb, err := redis.Dial(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })

		deps.LockManager = redis.NewLockManager(rdb)
		deps.RateLimiter = redis.NewRateLimiter(rdb)
		deps.SignalBus = redis.NewSignalBus(rdb)
		deps.Checks["redis"] = redis.Ping(rdb)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Relayer transport ---
	// Dialing starts here, so it comes last.
	deps.Environment = transport.NewManualEnvironment(logger)
	deps.Transport = transport.New(cfg.Relayer.WsURL,
		transport.WithDialer(transport.WebsocketDialer{
			HandshakeTimeout: cfg.Transport.HandshakeTimeout.Duration,
			WriteWait:        cfg.Transport.WriteWait.Duration,
		}),
		transport.WithEnvironment(deps.Environment),
		transport.WithLogger(logger),
		transport.WithMetrics(transport.NewMetrics(deps.Registry)),
		transport.WithConfig(transport.Config{
			InitialBackoff:    cfg.Transport.InitialBackoff.Duration,
			MaxBackoff:        cfg.Transport.MaxBackoff.Duration,
			MaxJitter:         cfg.Transport.Jitter.Duration,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval.Duration,
			StaleAfter:        cfg.Transport.StaleClose.Duration,
			AckTimeout:        cfg.Transport.AckTimeout.Duration,
		}),
	)
	closers = append(closers, func() { _ = deps.Transport.Close() })

	return deps, cleanup, nil
}
