package autobid_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/outcome"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

var (
	marketA = "0x" + strings.Repeat("0", 63) + "a"
	marketB = "0x" + strings.Repeat("0", 63) + "b"
	marketC = "0x" + strings.Repeat("0", 63) + "c"
	t0      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

const makerAddr = "0x00000000000000000000000000000000000000cc"

type fakeOrders struct {
	mu      sync.Mutex
	orders  []domain.Order
	lists   int
	listErr error
	paused  []string
}

func (f *fakeOrders) Upsert(context.Context, domain.Order) error { return nil }

func (f *fakeOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeOrders) ListActive(context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Order(nil), f.orders...), nil
}

func (f *fakeOrders) AutoPause(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeOrders) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type fakeSigner struct {
	err error
}

func (f *fakeSigner) Maker() string { return makerAddr }

func (f *fakeSigner) SignBid(_ context.Context, bid domain.QuoteBid) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "0xsig-" + bid.AuctionID + "-" + bid.MakerWager, nil
}

type fakeDecisions struct {
	mu       sync.Mutex
	recorded []domain.BidDecision
	reject   bool
}

func (f *fakeDecisions) Record(_ context.Context, d domain.BidDecision) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false, nil
	}
	f.recorded = append(f.recorded, d)
	return true, nil
}

func (f *fakeDecisions) ListRecent(context.Context, int) ([]domain.BidDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BidDecision(nil), f.recorded...), nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: make(map[string]bool)} }

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		f.released = append(f.released, key)
	}, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func (f *fakeLimiter) Wait(context.Context, string) error { return nil }

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{messages: make(map[string][][]byte)} }

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBus) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[channel])
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	handlers []func(transport.Message)
}

func (f *fakeSource) OnMessage(fn func(transport.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
	return func() {}
}

func (f *fakeSource) deliver(msg transport.Message) {
	f.mu.Lock()
	hs := append([]func(transport.Message)(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func encodeLegs(legs ...domain.PredictedLeg) string {
	s, err := outcome.EncodeHex(legs)
	if err != nil {
		panic(err)
	}
	return s
}

func announcement(id string, legs ...domain.PredictedLeg) domain.AuctionAnnouncement {
	return domain.AuctionAnnouncement{
		AuctionID:         id,
		Wager:             "1000000",
		Resolver:          "0x00000000000000000000000000000000000000aa",
		PredictedOutcomes: []string{encodeLegs(legs...)},
		Taker:             "0x00000000000000000000000000000000000000bb",
		TakerNonce:        "1",
		ChainID:           42161,
		ReceivedAt:        t0,
	}
}

func restingOrder(id string, odds int, sels ...domain.ConditionSelection) domain.Order {
	return domain.Order{
		ID:                  id,
		Strategy:            domain.OrderStrategyConditions,
		ConditionSelections: sels,
		Odds:                odds,
		Status:              domain.OrderStatusActive,
		CreatedAt:           t0.Add(-time.Hour),
		UpdatedAt:           t0.Add(-time.Hour),
	}
}
