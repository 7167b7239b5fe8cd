// Command rfqbot is the entry point for the auction RFQ bot. It loads
// configuration, validates it, sets up signal handling, and runs the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/auctionrfq/internal/app"
	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/config"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

func main() {
	var legs legFlag
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	mode := flag.String("mode", "", "override the configured mode: quote, autobid or full")
	wager := flag.String("wager", "", "taker wager in base units; requests quotes on start")
	taker := flag.String("taker", "", "taker address (defaults to the wallet address)")
	flag.Var(&legs, "leg", "auction leg as <marketId>:yes|no (repeatable)")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var opts []app.Option
	if *wager != "" {
		if len(legs) == 0 {
			logger.Error("-wager needs at least one -leg")
			os.Exit(2)
		}
		opts = append(opts,
			app.WithQuoteRequest(app.QuoteRequest{Wager: *wager, Legs: legs, Taker: *taker}),
			app.WithQuoteObserver(func(snap auction.Snapshot) {
				renderSnapshot(os.Stdout, snap)
			}),
		)
	}

	logger.Info("rfqbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger, opts...)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("rfqbot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// legFlag collects repeated -leg values.
type legFlag []domain.PredictedLeg

func (f *legFlag) String() string { return fmt.Sprint(len(*f), " legs") }

func (f *legFlag) Set(v string) error {
	leg, err := parseLeg(v)
	if err != nil {
		return err
	}
	*f = append(*f, leg)
	return nil
}
