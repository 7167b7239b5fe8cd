// Package autobid answers auction.started announcements on behalf of resting
// orders: it matches each announcement against the active orders, prices and
// signs a bid for every match, and publishes the resulting decisions.
package autobid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/matching"
	"github.com/alanyoungcy/auctionrfq/internal/notify"
	"github.com/alanyoungcy/auctionrfq/internal/outcome"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// BidSigner signs maker bids.
type BidSigner interface {
	Maker() string
	SignBid(ctx context.Context, bid domain.QuoteBid) (string, error)
}

// Notifier receives human-readable alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MessageSource delivers inbound relayer messages.
type MessageSource interface {
	OnMessage(fn func(transport.Message)) (unregister func())
}

// Config tunes the loop.
type Config struct {
	MaxBidsPerSecond float64 // 0 = unlimited
	Burst            int
	DedupTTL         time.Duration
	LockTTL          time.Duration
	OrderRefresh     time.Duration
	BidTTL           time.Duration // maker deadline offset
	PerOrderLimit    int           // shared limiter, 0 disables
	PerOrderWindow   time.Duration
	DecisionChannel  string
	QueueSize        int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBidsPerSecond: 5,
		Burst:            10,
		DedupTTL:         10 * time.Minute,
		LockTTL:          30 * time.Second,
		OrderRefresh:     30 * time.Second,
		BidTTL:           60 * time.Second,
		PerOrderWindow:   time.Minute,
		DecisionChannel:  "rfq:decisions",
		QueueSize:        256,
	}
}

// Option configures a Loop.
type Option func(*Loop)

// WithConfig replaces the defaults. Zero durations fall back to DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(l *Loop) {
		def := DefaultConfig()
		if cfg.DedupTTL <= 0 {
			cfg.DedupTTL = def.DedupTTL
		}
		if cfg.LockTTL <= 0 {
			cfg.LockTTL = def.LockTTL
		}
		if cfg.OrderRefresh <= 0 {
			cfg.OrderRefresh = def.OrderRefresh
		}
		if cfg.BidTTL <= 0 {
			cfg.BidTTL = def.BidTTL
		}
		if cfg.PerOrderWindow <= 0 {
			cfg.PerOrderWindow = def.PerOrderWindow
		}
		if cfg.DecisionChannel == "" {
			cfg.DecisionChannel = def.DecisionChannel
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = def.QueueSize
		}
		l.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Loop) { l.logger = logger } }

// WithMetrics attaches collectors.
func WithMetrics(m *Metrics) Option { return func(l *Loop) { l.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// WithDecisionStore persists decisions; a pair already recorded is not
// published again.
func WithDecisionStore(s domain.DecisionStore) Option { return func(l *Loop) { l.decisions = s } }

// WithLockManager takes a lock per (auction, order) so that only one
// instance bids.
func WithLockManager(lm domain.LockManager) Option { return func(l *Loop) { l.locks = lm } }

// WithSharedLimiter applies Config.PerOrderLimit across instances.
func WithSharedLimiter(rl domain.RateLimiter) Option { return func(l *Loop) { l.shared = rl } }

// WithSignalBus publishes each decision as JSON on Config.DecisionChannel.
func WithSignalBus(bus domain.SignalBus) Option { return func(l *Loop) { l.bus = bus } }

// WithNotifier sends decision and auto-pause alerts.
func WithNotifier(n Notifier) Option { return func(l *Loop) { l.notifier = n } }

// Loop is the auto-bid engine.
type Loop struct {
	orders    domain.OrderStore
	signer    BidSigner
	decisions domain.DecisionStore
	locks     domain.LockManager
	shared    domain.RateLimiter
	bus       domain.SignalBus
	notifier  Notifier

	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	limiter *rate.Limiter
	dedup   *Dedup
	queue   chan domain.AuctionAnnouncement

	mu       sync.Mutex
	cache    []domain.Order
	loadedAt time.Time
	reload   bool
}

// New creates a Loop reading resting orders from orders and signing with
// signer.
func New(orders domain.OrderStore, signer BidSigner, opts ...Option) *Loop {
	l := &Loop{
		orders: orders,
		signer: signer,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "autobid"))

	limit := rate.Inf
	if l.cfg.MaxBidsPerSecond > 0 {
		limit = rate.Limit(l.cfg.MaxBidsPerSecond)
	}
	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l.limiter = rate.NewLimiter(limit, burst)
	l.dedup = NewDedup(l.cfg.DedupTTL, l.now)
	l.queue = make(chan domain.AuctionAnnouncement, l.cfg.QueueSize)
	return l
}

// Attach feeds auction.started messages from src into the loop's queue.
// Announcements are dropped when the queue is full.
func (l *Loop) Attach(src MessageSource) (detach func()) {
	return src.OnMessage(func(msg transport.Message) {
		if msg.Type != auction.TypeStarted {
			return
		}
		in, err := auction.Decode(msg, l.now())
		if err != nil {
			l.metrics.announcement("malformed")
			l.logger.Debug("dropping malformed announcement", slog.String("error", err.Error()))
			return
		}
		started, ok := in.(auction.Started)
		if !ok {
			return
		}
		select {
		case l.queue <- started.Announcement:
		default:
			l.metrics.announcement("queue_full")
			l.logger.Warn("announcement queue full, dropping",
				slog.String("auction_id", started.Announcement.AuctionID),
			)
		}
	})
}

// Run processes queued announcements until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("auto-bid loop started")
	defer l.logger.Info("auto-bid loop stopped")

	cleanupTicker := time.NewTicker(max(l.cfg.DedupTTL/2, time.Second))
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ann := <-l.queue:
			l.Handle(ctx, ann)

		case <-cleanupTicker.C:
			l.dedup.Cleanup()
		}
	}
}

// Handle evaluates one announcement against every resting order and
// returns the decisions that were signed and published.
func (l *Loop) Handle(ctx context.Context, ann domain.AuctionAnnouncement) []domain.BidDecision {
	log := l.logger.With(slog.String("auction_id", ann.AuctionID))

	if ann.AuctionID == "" {
		l.metrics.announcement("malformed")
		return nil
	}
	if ann.Taker != "" && strings.EqualFold(ann.Taker, l.signer.Maker()) {
		l.metrics.announcement("own")
		return nil
	}

	legs := outcome.DecodeHex(ann.PredictedOutcomes...)
	if len(legs) == 0 {
		l.metrics.announcement("undecodable")
		log.Debug("announcement has no decodable legs")
		return nil
	}

	orders, err := l.activeOrders(ctx)
	if err != nil {
		l.metrics.announcement("orders_unavailable")
		log.Error("loading resting orders failed", slog.String("error", err.Error()))
		return nil
	}
	l.metrics.announcement("accepted")

	now := l.now()
	var out []domain.BidDecision
	for _, order := range orders {
		if order.Expired(now) {
			l.autoPause(ctx, order, now)
			continue
		}
		if !order.Eligible(now) {
			continue
		}
		res, ok := matching.Match(order, legs)
		if !ok {
			continue
		}

		d, result, err := l.decide(ctx, ann, order, res, now)
		l.metrics.decision(result)
		if err != nil {
			log.Warn("auto-bid failed",
				slog.String("order_id", order.ID),
				slog.String("outcome", result),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d == nil {
			log.Debug("auto-bid skipped",
				slog.String("order_id", order.ID),
				slog.String("outcome", result),
			)
			continue
		}
		out = append(out, *d)
	}
	return out
}

// decide runs the per-order pipeline. A nil decision with a nil error is a
// deliberate skip; the returned string names the step that ended it.
func (l *Loop) decide(ctx context.Context, ann domain.AuctionAnnouncement, order domain.Order, res domain.MatchResult, now time.Time) (*domain.BidDecision, string, error) {
	if l.dedup.IsDuplicate(order.ID + ":" + ann.AuctionID) {
		return nil, "duplicate", nil
	}

	wager, err := MakerWager(ann.Wager, order.Odds, order.MaxWager)
	if err != nil {
		return nil, "unpriceable", nil
	}

	if !l.limiter.AllowN(now, 1) {
		return nil, "rate_limited", nil
	}
	if l.shared != nil && l.cfg.PerOrderLimit > 0 {
		ok, err := l.shared.Allow(ctx, "order:"+order.ID, l.cfg.PerOrderLimit, l.cfg.PerOrderWindow)
		if err != nil {
			return nil, "limiter_error", err
		}
		if !ok {
			return nil, "rate_limited", nil
		}
	}

	release := func() {}
	if l.locks != nil {
		unlock, err := l.locks.Acquire(ctx, "auction:"+ann.AuctionID+":order:"+order.ID, l.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, "locked", nil
		}
		if err != nil {
			return nil, "lock_error", err
		}
		// Held until LockTTL on success so peers see the pair as taken.
		release = unlock
	}

	bid := domain.QuoteBid{
		AuctionID:     ann.AuctionID,
		Maker:         l.signer.Maker(),
		MakerWager:    wager.String(),
		MakerDeadline: now.Add(l.cfg.BidTTL).Unix(),
		MakerNonce:    newNonce(),
	}
	sig, err := l.signer.SignBid(ctx, bid)
	if err != nil {
		release()
		return nil, "sign_failed", err
	}

	d := domain.BidDecision{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		AuctionID:      ann.AuctionID,
		Match:          res,
		Maker:          bid.Maker,
		MakerWager:     bid.MakerWager,
		MakerDeadline:  bid.MakerDeadline,
		MakerNonce:     bid.MakerNonce,
		MakerSignature: sig,
		CreatedAt:      now,
	}

	if l.decisions != nil {
		inserted, err := l.decisions.Record(ctx, d)
		if err != nil {
			release()
			return nil, "store_error", err
		}
		if !inserted {
			return nil, "duplicate", nil
		}
	}

	l.publish(ctx, d)
	return &d, "bid", nil
}

func (l *Loop) publish(ctx context.Context, d domain.BidDecision) {
	if l.bus != nil {
		payload, err := json.Marshal(d)
		if err == nil {
			err = l.bus.Publish(ctx, l.cfg.DecisionChannel, payload)
		}
		if err != nil {
			l.logger.Warn("publishing decision failed",
				slog.String("decision_id", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if l.notifier != nil {
		title, msg := notify.DecisionMessage(d)
		if err := l.notifier.Notify(ctx, notify.EventBidDecision, title, msg); err != nil {
			l.logger.Warn("decision notification failed", slog.String("error", err.Error()))
		}
	}
}

// activeOrders returns the cached resting orders, reloading them once the
// refresh interval has passed. A failed reload keeps serving the previous
// set.
func (l *Loop) activeOrders(ctx context.Context) ([]domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.loadedAt.IsZero() && !l.reload && now.Sub(l.loadedAt) < l.cfg.OrderRefresh {
		return append([]domain.Order(nil), l.cache...), nil
	}

	orders, err := l.orders.ListActive(ctx)
	if err != nil {
		if l.loadedAt.IsZero() {
			return nil, fmt.Errorf("autobid: list active orders: %w", err)
		}
		l.logger.Warn("order refresh failed, using cached orders", slog.String("error", err.Error()))
		return append([]domain.Order(nil), l.cache...), nil
	}

	l.cache = orders
	l.loadedAt = now
	l.reload = false
	l.metrics.setOrders(len(orders))
	return append([]domain.Order(nil), orders...), nil
}

// Refresh forces the next announcement to reload resting orders.
func (l *Loop) Refresh() {
	l.mu.Lock()
	l.reload = true
	l.mu.Unlock()
}

// autoPause pauses an expired order in the store and drops it from the
// cache.
func (l *Loop) autoPause(ctx context.Context, order domain.Order, now time.Time) {
	err := l.orders.AutoPause(ctx, order.ID, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		l.logger.Warn("auto-pause failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	l.mu.Lock()
	for i, o := range l.cache {
		if o.ID == order.ID {
			l.cache = append(l.cache[:i:i], l.cache[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	if err != nil {
		return
	}
	l.metrics.paused()
	l.logger.Info("expired order auto-paused", slog.String("order_id", order.ID))
	if l.notifier != nil {
		title, msg := notify.AutoPauseMessage(order.ID, now)
		if err := l.notifier.Notify(ctx, notify.EventAutoPause, title, msg); err != nil {
			l.logger.Warn("auto-pause notification failed", slog.String("error", err.Error()))
		}
	}
}

// newNonce returns a random 128-bit maker nonce as a decimal string.
func newNonce() string {
	u := uuid.New()
	return new(big.Int).SetBytes(u[:]).String()
}
