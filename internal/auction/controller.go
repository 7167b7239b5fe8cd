package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// Transport is the subset of *transport.Client the controller drives.
type Transport interface {
	Send(v any) error
	SendWithAck(ctx context.Context, msgType string, payload any, timeout time.Duration) (transport.Message, error)
	State() transport.State
	OnMessage(fn func(transport.Message)) (unregister func())
	OnOpen(fn func()) (unregister func())
	Close() error
}

// TakerSigner fills the optional taker signature on an outbound request.
type TakerSigner interface {
	SignAuction(ctx context.Context, params domain.AuctionParams) (signature string, signedAt string, err error)
}

// Config tunes the controller's timers.
type Config struct {
	Debounce   time.Duration
	OpenWait   time.Duration
	AckTimeout time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Debounce:   400 * time.Millisecond,
		OpenWait:   time.Second,
		AckTimeout: 5 * time.Second,
	}
}

// Snapshot is the observable session state.
type Snapshot struct {
	AuctionID   string
	AwaitingAck bool
	Bids        []domain.QuoteBid
	LastSent    *domain.AuctionParams
	UpdatedAt   time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig overrides the default timings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		def := DefaultConfig()
		if cfg.Debounce <= 0 {
			cfg.Debounce = def.Debounce
		}
		if cfg.OpenWait <= 0 {
			cfg.OpenWait = def.OpenWait
		}
		if cfg.AckTimeout <= 0 {
			cfg.AckTimeout = def.AckTimeout
		}
		c.cfg = cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithTakerSigner signs every auction.start before it is sent.
func WithTakerSigner(s TakerSigner) Option { return func(c *Controller) { c.signer = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

type pendingRequest struct {
	params      domain.AuctionParams
	fingerprint string
}

// Controller keeps exactly one live auction on the relayer for the most
// recently requested parameters and tracks its current bid snapshot. It is
// the only writer of the auction id and bid list.
type Controller struct {
	cfg      Config
	tr       Transport
	logger   *slog.Logger
	metrics  *Metrics
	signer   TakerSigner
	validate *validator.Validate
	now      func() time.Time

	mu          sync.Mutex
	auctionID   string
	bids        []domain.QuoteBid
	lastSent    *domain.AuctionParams
	inFlight    string
	awaitingAck bool
	sentAt      time.Time
	updatedAt   time.Time
	pending     *pendingRequest
	debounce    *time.Timer
	debounceSeq uint64
	sendSeq     uint64
	cancelWait  func()
	closed      bool
	unsubscribe []func()

	obsMu     sync.Mutex
	obsNext   uint64
	observers map[uint64]func(Snapshot)
}

// New attaches a Controller to tr. The controller owns tr from here on and
// closes it in Close.
func New(tr Transport, opts ...Option) *Controller {
	c := &Controller{
		cfg:       DefaultConfig(),
		tr:        tr,
		logger:    slog.Default(),
		validate:  validator.New(),
		now:       time.Now,
		observers: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "auction"))
	c.unsubscribe = append(c.unsubscribe, tr.OnMessage(c.handleMessage))
	return c
}

// RequestQuotes schedules an auction.start for params after the debounce
// window. A request identical to the one already in flight is skipped
// unless forceRefresh is set. Only the last call within a window is sent.
func (c *Controller) RequestQuotes(params domain.AuctionParams, forceRefresh bool) error {
	if err := c.validate.Struct(params); err != nil {
		c.metrics.request("invalid")
		return fmt.Errorf("auction: request quotes: %w: %v", domain.ErrInvalidParams, err)
	}
	fp, err := fingerprint(params)
	if err != nil {
		return fmt.Errorf("auction: request quotes: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("auction: request quotes: %w", domain.ErrClosed)
	}

	if fp == c.inFlight && !forceRefresh {
		c.stopDebounceLocked()
		c.metrics.request("skipped")
		return nil
	}

	if c.pending != nil {
		c.metrics.request("superseded")
	}
	c.stopDebounceLocked()
	c.pending = &pendingRequest{params: params, fingerprint: fp}
	c.debounceSeq++
	seq := c.debounceSeq
	c.debounce = time.AfterFunc(c.cfg.Debounce, func() { c.fire(seq) })
	return nil
}

// Subscribe follows an existing auction's bids without starting a new one.
func (c *Controller) Subscribe(auctionID string) error {
	msg, err := transport.NewMessage(TypeSubscribe, map[string]string{"auctionId": auctionID})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("auction: subscribe: %w", domain.ErrClosed)
	}
	c.auctionID = auctionID
	c.awaitingAck = false
	c.bids = nil
	c.updatedAt = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.setBids(0)
	c.notify(snap)
	if err := c.tr.Send(msg); err != nil {
		return fmt.Errorf("auction: subscribe: %w", err)
	}
	return nil
}

// NotifyOrderCreated reports a submitted transaction for an accepted bid and
// waits for the relayer's acknowledgement.
func (c *Controller) NotifyOrderCreated(ctx context.Context, auctionID, requestID, txHash string) error {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	payload := map[string]string{
		"auctionId": auctionID,
		"requestId": requestID,
	}
	if txHash != "" {
		payload["txHash"] = txHash
	}
	if _, err := c.tr.SendWithAck(ctx, TypeOrder, payload, c.cfg.AckTimeout); err != nil {
		return fmt.Errorf("auction: order created %s: %w", auctionID, err)
	}
	return nil
}

// LastSentParams returns the parameters of the most recent auction.start.
func (c *Controller) LastSentParams() (domain.AuctionParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSent == nil {
		return domain.AuctionParams{}, false
	}
	return *c.lastSent, true
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// BestBid returns the unexpired bid with the largest total notional at now.
func (c *Controller) BestBid(now time.Time) (*domain.QuoteBid, domain.BidStatus) {
	c.mu.Lock()
	bids := c.bids
	takerWager := ""
	if c.lastSent != nil {
		takerWager = c.lastSent.Wager
	}
	c.mu.Unlock()
	return SelectBest(bids, takerWager, now)
}

// Status summarizes the session for status endpoints and the signal bus.
func (c *Controller) Status(now time.Time) domain.QuoteStatus {
	snap := c.Snapshot()
	best, status := SelectBest(snap.Bids, wagerOf(snap.LastSent), now)
	return domain.QuoteStatus{
		AuctionID:     snap.AuctionID,
		AwaitingAck:   snap.AwaitingAck,
		BidCount:      len(snap.Bids),
		BestBid:       best,
		BestBidStatus: status.String(),
		UpdatedAt:     snap.UpdatedAt,
	}
}

// OnChange registers fn for every change to the session state.
func (c *Controller) OnChange(fn func(Snapshot)) (unregister func()) {
	c.obsMu.Lock()
	c.obsNext++
	id := c.obsNext
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Close cancels pending timers, detaches from the transport and closes it.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopDebounceLocked()
	cancelWait := c.cancelWait
	c.cancelWait = nil
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if cancelWait != nil {
		cancelWait()
	}
	for _, u := range unsub {
		u()
	}
	return c.tr.Close()
}

// SelectBest picks the bid maximizing takerWager+makerWager among bids whose
// deadline is still ahead of now. Ties go to the earliest bid.
func SelectBest(bids []domain.QuoteBid, takerWager string, now time.Time) (*domain.QuoteBid, domain.BidStatus) {
	if len(bids) == 0 {
		return nil, domain.BidStatusNone
	}

	taker, ok := new(big.Int).SetString(takerWager, 10)
	if !ok {
		taker = new(big.Int)
	}

	var (
		best      *domain.QuoteBid
		bestTotal *big.Int
	)
	for i := range bids {
		if bids[i].Expired(now) {
			continue
		}
		maker, ok := new(big.Int).SetString(bids[i].MakerWager, 10)
		if !ok {
			continue
		}
		total := maker.Add(maker, taker)
		if best == nil || total.Cmp(bestTotal) > 0 {
			b := bids[i]
			best, bestTotal = &b, total
		}
	}
	if best == nil {
		return nil, domain.BidStatusExpired
	}
	return best, domain.BidStatusAvailable
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (c *Controller) fire(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.debounceSeq || c.pending == nil {
		c.mu.Unlock()
		return
	}
	req := c.pending
	c.pending = nil
	c.debounce = nil
	c.mu.Unlock()

	params := req.params
	if c.signer != nil {
		sig, signedAt, err := c.signer.SignAuction(context.Background(), params)
		if err != nil {
			c.logger.Warn("taker signature failed, sending unsigned", slog.String("error", err.Error()))
		} else {
			params.TakerSignature, params.TakerSignedAt = sig, signedAt
		}
	}

	msg, err := transport.NewMessage(TypeStart, params)
	if err != nil {
		c.logger.Error("encode auction.start", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.closed || seq != c.debounceSeq {
		c.mu.Unlock()
		return
	}
	prevWait := c.cancelWait
	c.cancelWait = nil
	c.sendSeq++
	sendSeq := c.sendSeq
	c.awaitingAck = true
	c.inFlight = req.fingerprint
	c.auctionID = ""
	c.bids = nil
	c.lastSent = &params
	c.updatedAt = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if prevWait != nil {
		prevWait()
	}
	c.metrics.request("sent")
	c.metrics.setBids(0)
	c.notify(snap)
	c.sendWhenOpen(msg, sendSeq)
}

// sendWhenOpen transmits msg once the transport is open, or after OpenWait
// at the latest. A newer request or Close abandons the wait.
func (c *Controller) sendWhenOpen(msg transport.Message, seq uint64) {
	if c.tr.State() == transport.StateOpen {
		c.transmit(msg, seq)
		return
	}

	var (
		once       sync.Once
		unregister func()
		timer      *time.Timer
		ready      = make(chan struct{})
	)
	stop := func() {
		<-ready
		unregister()
		timer.Stop()
	}
	send := func() {
		once.Do(func() {
			stop()
			c.transmit(msg, seq)
		})
	}
	cancel := func() { once.Do(stop) }

	unregister = c.tr.OnOpen(send)
	timer = time.AfterFunc(c.cfg.OpenWait, send)
	close(ready)

	c.mu.Lock()
	if c.closed || seq != c.sendSeq {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelWait = cancel
	c.mu.Unlock()

	if c.tr.State() == transport.StateOpen {
		send()
	}
}

func (c *Controller) transmit(msg transport.Message, seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.sendSeq {
		c.mu.Unlock()
		return
	}
	c.cancelWait = nil
	c.sentAt = c.now()
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		c.logger.Warn("send auction.start", slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("auction.start sent")
}

func (c *Controller) handleMessage(msg transport.Message) {
	in, err := Decode(msg, c.now())
	if err != nil {
		c.metrics.drop("malformed")
		c.logger.Debug("dropping malformed message",
			slog.String("type", msg.Type), slog.String("error", err.Error()))
		return
	}

	switch m := in.(type) {
	case Ack:
		c.handleAck(m)
	case Bids:
		c.handleBids(m)
	case Started:
		c.logger.Debug("auction started", slog.String("auction_id", m.Announcement.AuctionID))
	}
}

func (c *Controller) handleAck(m Ack) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.awaitingAck && !c.sentAt.IsZero() {
		c.metrics.observeAck(c.now().Sub(c.sentAt).Seconds())
	}
	c.auctionID = m.AuctionID
	c.awaitingAck = false
	c.updatedAt = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("auction acknowledged", slog.String("auction_id", m.AuctionID))
	c.notify(snap)
}

func (c *Controller) handleBids(m Bids) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return
	case c.awaitingAck:
		c.mu.Unlock()
		c.metrics.drop("awaiting_ack")
		return
	case m.AuctionID != c.auctionID:
		c.mu.Unlock()
		c.metrics.drop("stale_auction")
		return
	}
	c.bids = m.Bids
	c.updatedAt = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if m.Skipped > 0 {
		c.metrics.drop("bad_bid")
		c.logger.Debug("skipped malformed bids", slog.Int("count", m.Skipped))
	}
	c.metrics.setBids(len(m.Bids))
	c.notify(snap)
}

func (c *Controller) stopDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.pending = nil
	c.debounceSeq++
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		AuctionID:   c.auctionID,
		AwaitingAck: c.awaitingAck,
		Bids:        append([]domain.QuoteBid(nil), c.bids...),
		UpdatedAt:   c.updatedAt,
	}
	if c.lastSent != nil {
		p := *c.lastSent
		snap.LastSent = &p
	}
	return snap
}

func (c *Controller) notify(snap Snapshot) {
	c.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		c.safeCall(fn, snap)
	}
}

func (c *Controller) safeCall(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("auction observer panicked", slog.Any("panic", r))
		}
	}()
	fn(snap)
}

// fingerprint is the key-sorted JSON of the unsigned auction.start payload.
func fingerprint(p domain.AuctionParams) (string, error) {
	fields := map[string]any{
		"wager":             p.Wager,
		"resolver":          p.Resolver,
		"predictedOutcomes": p.PredictedOutcomes,
		"taker":             p.Taker,
		"takerNonce":        p.TakerNonce,
		"chainId":           p.ChainID,
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func wagerOf(p *domain.AuctionParams) string {
	if p == nil {
		return ""
	}
	return p.Wager
}
