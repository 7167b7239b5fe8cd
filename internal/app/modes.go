package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/autobid"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/notify"
	"github.com/alanyoungcy/auctionrfq/internal/outcome"
	"github.com/alanyoungcy/auctionrfq/internal/server"
	"github.com/alanyoungcy/auctionrfq/internal/server/handler"
	"github.com/alanyoungcy/auctionrfq/internal/server/ws"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// QuoteChannel carries quote session status updates.
const QuoteChannel = "rfq:quotes"

// QuoteMode runs one auction session and, when enabled, the operator server.
func (a *App) QuoteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting quote mode")

	g, ctx := errgroup.WithContext(ctx)
	a.watchConnection(ctx, deps)

	session := a.newSession(deps)
	hub := a.startHTTPServer(ctx, g, deps, session, false)
	a.observeSession(ctx, session, deps, hub)

	if err := a.requestQuotes(session, deps); err != nil {
		return fmt.Errorf("quote mode: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// AutobidMode answers auction announcements from resting orders.
func (a *App) AutobidMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting autobid mode")

	g, ctx := errgroup.WithContext(ctx)
	a.watchConnection(ctx, deps)

	loop, err := a.newLoop(deps)
	if err != nil {
		return fmt.Errorf("autobid mode: %w", err)
	}
	detach := loop.Attach(deps.Transport)
	a.closers = append(a.closers, detach)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, nil, true)
	return g.Wait()
}

// FullMode runs the quote session and, when autobid.enabled is set, the
// auto-bid loop on the same relayer connection.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("autobid", a.cfg.Autobid.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.watchConnection(ctx, deps)

	session := a.newSession(deps)

	withDecisions := false
	if a.cfg.Autobid.Enabled {
		loop, err := a.newLoop(deps)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		detach := loop.Attach(deps.Transport)
		a.closers = append(a.closers, detach)
		g.Go(func() error {
			return loop.Run(ctx)
		})
		withDecisions = true
	}

	hub := a.startHTTPServer(ctx, g, deps, session, withDecisions)
	a.observeSession(ctx, session, deps, hub)

	if err := a.requestQuotes(session, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

func (a *App) newSession(deps *Dependencies) *auction.Controller {
	opts := []auction.Option{
		auction.WithLogger(a.logger),
		auction.WithMetrics(auction.NewMetrics(deps.Registry)),
		auction.WithConfig(auction.Config{
			Debounce:   a.cfg.Auction.Debounce.Duration,
			OpenWait:   a.cfg.Auction.OpenWait.Duration,
			AckTimeout: a.cfg.Transport.AckTimeout.Duration,
		}),
	}
	if deps.Signer != nil {
		opts = append(opts, auction.WithTakerSigner(deps.Signer))
	}
	session := auction.New(deps.Transport, opts...)
	a.closers = append(a.closers, func() { _ = session.Close() })
	return session
}

func (a *App) newLoop(deps *Dependencies) (*autobid.Loop, error) {
	if deps.Signer == nil {
		return nil, fmt.Errorf("auto-bid needs a wallet key")
	}
	if deps.OrderStore == nil {
		return nil, fmt.Errorf("auto-bid needs the order store")
	}

	ab := a.cfg.Autobid
	return autobid.New(deps.OrderStore, deps.Signer,
		autobid.WithConfig(autobid.Config{
			MaxBidsPerSecond: ab.MaxBidsPerSecond,
			Burst:            ab.Burst,
			DedupTTL:         ab.DedupTTL.Duration,
			LockTTL:          ab.LockTTL.Duration,
			OrderRefresh:     ab.OrderRefresh.Duration,
			BidTTL:           ab.BidTTL.Duration,
			PerOrderLimit:    ab.PerOrderLimit,
			PerOrderWindow:   ab.PerOrderWindow.Duration,
			DecisionChannel:  ab.DecisionChannel,
		}),
		autobid.WithLogger(a.logger),
		autobid.WithMetrics(autobid.NewMetrics(deps.Registry)),
		autobid.WithDecisionStore(deps.DecisionStore),
		autobid.WithLockManager(deps.LockManager),
		autobid.WithSharedLimiter(deps.RateLimiter),
		autobid.WithSignalBus(deps.SignalBus),
		autobid.WithNotifier(deps.Notifier),
	), nil
}

// requestQuotes opens the configured auction, if any.
func (a *App) requestQuotes(session *auction.Controller, deps *Dependencies) error {
	if a.quote == nil {
		a.logger.Info("no quote request configured, session idle")
		return nil
	}
	params, err := a.quoteParams(deps)
	if err != nil {
		return err
	}
	if err := session.RequestQuotes(params, false); err != nil {
		return fmt.Errorf("request quotes: %w", err)
	}
	a.logger.Info("quotes requested",
		slog.String("wager", params.Wager),
		slog.Int("legs", len(a.quote.Legs)),
	)
	return nil
}

func (a *App) quoteParams(deps *Dependencies) (domain.AuctionParams, error) {
	taker := a.quote.Taker
	if taker == "" && deps.Signer != nil {
		taker = deps.Signer.Address().Hex()
	}
	if taker == "" {
		return domain.AuctionParams{}, fmt.Errorf("quote request needs a taker address or a wallet key: %w", domain.ErrInvalidParams)
	}

	payload, err := outcome.EncodeHex(a.quote.Legs)
	if err != nil {
		return domain.AuctionParams{}, fmt.Errorf("encode legs: %w", err)
	}

	return domain.AuctionParams{
		Wager:             a.quote.Wager,
		Resolver:          a.cfg.Relayer.Resolver,
		PredictedOutcomes: []string{payload},
		Taker:             taker,
		TakerNonce:        strconv.FormatInt(time.Now().UnixMilli(), 10),
		ChainID:           a.cfg.Relayer.ChainID,
	}, nil
}

// observeSession forwards every snapshot to the CLI observer and to the
// live feed. With Redis the status goes over the bus so other instances see
// it too; otherwise it is broadcast to local WebSocket clients directly.
func (a *App) observeSession(ctx context.Context, session *auction.Controller, deps *Dependencies, hub *ws.Hub) {
	unregister := session.OnChange(func(snap auction.Snapshot) {
		if a.observer != nil {
			a.observer(snap)
		}
		if deps.SignalBus == nil && hub == nil {
			return
		}

		data, err := json.Marshal(session.Status(time.Now()))
		if err != nil {
			return
		}
		if deps.SignalBus != nil {
			if err := deps.SignalBus.Publish(ctx, QuoteChannel, data); err != nil {
				a.logger.Debug("publish quote status failed", slog.String("error", err.Error()))
			}
			return
		}
		hub.Broadcast(QuoteChannel, data)
	})
	a.closers = append(a.closers, unregister)
}

// watchConnection logs connection drops and alerts operators on unplanned
// ones.
func (a *App) watchConnection(ctx context.Context, deps *Dependencies) {
	unClose := deps.Transport.OnClose(func(ev transport.CloseEvent) {
		if ev.Planned {
			return
		}
		a.logger.Warn("relayer connection lost", slog.String("target", ev.Target))
		title, msg := notify.ConnectionLostMessage(ev.Target, ev.Err)
		if err := deps.Notifier.Notify(ctx, notify.EventConnection, title, msg); err != nil {
			a.logger.Debug("connection notification failed", slog.String("error", err.Error()))
		}
	})
	unOpen := deps.Transport.OnOpen(func() {
		a.logger.Info("relayer connection open", slog.String("target", deps.Transport.Target()))
	})
	a.closers = append(a.closers, unClose, unOpen)
}

// startHTTPServer starts the operator API when enabled and returns the live
// feed hub, or nil when the server is off.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	session *auction.Controller,
	withDecisions bool,
) *ws.Hub {
	if !a.cfg.Server.Enabled {
		return nil
	}

	hub := ws.NewHub(deps.SignalBus, []string{a.cfg.Autobid.DecisionChannel, QuoteChannel}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Environment: handler.NewEnvironmentHandler(deps.Environment, a.logger),
		Metrics:     promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}),
	}
	// A typed nil *Controller must not reach the interface.
	if session != nil {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, deps.Transport, session)
	} else {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, deps.Transport, nil)
	}
	if withDecisions && deps.DecisionStore != nil {
		handlers.Decisions = handler.NewDecisionHandler(deps.DecisionStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return hub
}
