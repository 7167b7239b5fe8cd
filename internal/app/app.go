// Package app wires the relayer transport, the quote session, the auto-bid
// loop and the operator server together and runs them in the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/config"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// QuoteRequest is the auction the quote session opens on start.
type QuoteRequest struct {
	Wager string
	Legs  []domain.PredictedLeg
	Taker string // defaults to the wallet address
}

// Option configures an App.
type Option func(*App)

// WithQuoteRequest makes quote and full modes request quotes on start.
func WithQuoteRequest(req QuoteRequest) Option {
	return func(a *App) { a.quote = &req }
}

// WithQuoteObserver is called with every quote session snapshot.
func WithQuoteObserver(fn func(auction.Snapshot)) Option {
	return func(a *App) { a.observer = fn }
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	quote    *QuoteRequest
	observer func(auction.Snapshot)
	closers  []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires all dependencies, starts the configured mode and blocks until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("relayer", a.cfg.Relayer.WsURL),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "quote":
		return a.QuoteMode(ctx, deps)
	case "autobid":
		return a.AutobidMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
