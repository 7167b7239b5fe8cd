package autobid_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionrfq/internal/autobid"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/notify"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

type harness struct {
	orders    *fakeOrders
	signer    *fakeSigner
	decisions *fakeDecisions
	locks     *fakeLocks
	bus       *fakeBus
	notifier  *fakeNotifier
	clock     *clock
	loop      *autobid.Loop
}

func newHarness(t *testing.T, cfg autobid.Config, orders ...domain.Order) *harness {
	t.Helper()
	h := &harness{
		orders:    &fakeOrders{orders: orders},
		signer:    &fakeSigner{},
		decisions: &fakeDecisions{},
		locks:     newFakeLocks(),
		bus:       newFakeBus(),
		notifier:  &fakeNotifier{},
		clock:     &clock{now: t0},
	}
	h.loop = autobid.New(h.orders, h.signer,
		autobid.WithConfig(cfg),
		autobid.WithClock(h.clock.Now),
		autobid.WithDecisionStore(h.decisions),
		autobid.WithLockManager(h.locks),
		autobid.WithSignalBus(h.bus),
		autobid.WithNotifier(h.notifier),
	)
	return h
}

func unlimited() autobid.Config {
	cfg := autobid.DefaultConfig()
	cfg.MaxBidsPerSecond = 0
	return cfg
}

func TestHandle_DirectMatchProducesSignedDecision(t *testing.T) {
	order := restingOrder("o-1", 60, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)

	got := h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true}))
	require.Len(t, got, 1)

	d := got[0]
	assert.Equal(t, "o-1", d.OrderID)
	assert.Equal(t, "a-1", d.AuctionID)
	assert.False(t, d.Match.Inverted)
	assert.Equal(t, makerAddr, d.Maker)
	assert.Equal(t, "1500000", d.MakerWager)
	assert.Equal(t, t0.Add(time.Minute).Unix(), d.MakerDeadline)
	assert.Equal(t, "0xsig-a-1-1500000", d.MakerSignature)
	assert.NotEmpty(t, d.MakerNonce)
	assert.NotEmpty(t, d.ID)

	require.Len(t, h.decisions.recorded, 1)
	require.Equal(t, 1, h.bus.count("rfq:decisions"))
	var published domain.BidDecision
	require.NoError(t, json.Unmarshal(h.bus.messages["rfq:decisions"][0], &published))
	assert.Equal(t, d.ID, published.ID)
	assert.Equal(t, []string{notify.EventBidDecision}, h.notifier.events)
}

func TestHandle_SingleLegInvertedMatch(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeYes})
	h := newHarness(t, unlimited(), order)

	got := h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true}))
	require.Len(t, got, 1)
	assert.True(t, got[0].Match.Inverted)
	assert.Equal(t, "1000000", got[0].MakerWager)
}

func TestHandle_SkipsIneligibleAndUnmatchedOrders(t *testing.T) {
	paused := restingOrder("paused", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	paused.Status = domain.OrderStatusPaused
	copyTrade := restingOrder("copy", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	copyTrade.Strategy = domain.OrderStrategyCopyTrade
	other := restingOrder("other", 50, domain.ConditionSelection{ID: marketC, Outcome: domain.OutcomeNo})
	multi := restingOrder("multi", 50,
		domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeYes},
		domain.ConditionSelection{ID: marketB, Outcome: domain.OutcomeNo},
	)
	h := newHarness(t, unlimited(), paused, copyTrade, other, multi)

	got := h.loop.Handle(context.Background(), announcement("a-1",
		domain.PredictedLeg{MarketID: marketA, Prediction: true},
		domain.PredictedLeg{MarketID: marketB, Prediction: true},
	))
	assert.Empty(t, got)
	assert.Empty(t, h.decisions.recorded)
}

func TestHandle_AutoPausesExpiredOrdersOnce(t *testing.T) {
	expired := restingOrder("old", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	exp := t0.Add(-time.Second)
	expired.Expiration = &exp
	h := newHarness(t, unlimited(), expired)

	ann := announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})
	assert.Empty(t, h.loop.Handle(context.Background(), ann))
	assert.Empty(t, h.loop.Handle(context.Background(), announcement("a-2", domain.PredictedLeg{MarketID: marketA, Prediction: true})))

	assert.Equal(t, []string{"old"}, h.orders.paused)
	assert.Equal(t, []string{notify.EventAutoPause}, h.notifier.events)
}

func TestNew_LogsToDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	expired := restingOrder("old", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	exp := t0.Add(-time.Second)
	expired.Expiration = &exp
	h := newHarness(t, unlimited(), expired)

	h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true}))
	assert.Contains(t, buf.String(), "expired order auto-paused")
	assert.Contains(t, buf.String(), "component=autobid")
}

func TestHandle_DuplicateAnnouncementIsIgnored(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	ann := announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})

	require.Len(t, h.loop.Handle(context.Background(), ann), 1)
	assert.Empty(t, h.loop.Handle(context.Background(), ann))
	assert.Equal(t, 1, h.bus.count("rfq:decisions"))
}

func TestHandle_AlreadyRecordedDecisionIsNotPublished(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	h.decisions.reject = true

	assert.Empty(t, h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})))
	assert.Zero(t, h.bus.count("rfq:decisions"))
	assert.Empty(t, h.notifier.events)
}

func TestHandle_LockHeldByPeer(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	h.locks.held["auction:a-1:order:o-1"] = true

	assert.Empty(t, h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})))
	assert.Empty(t, h.decisions.recorded)
}

func TestHandle_SignFailureReleasesLock(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	h.signer.err = errors.New("hsm offline")

	assert.Empty(t, h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})))
	assert.Equal(t, []string{"auction:a-1:order:o-1"}, h.locks.released)
	assert.Empty(t, h.decisions.recorded)
}

func TestHandle_LocalRateLimit(t *testing.T) {
	cfg := autobid.DefaultConfig()
	cfg.MaxBidsPerSecond = 1
	cfg.Burst = 1
	h := newHarness(t, cfg,
		restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo}),
		restingOrder("o-2", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo}),
	)

	got := h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true}))
	require.Len(t, got, 1)
	assert.Equal(t, "o-1", got[0].OrderID)
}

func TestHandle_SharedLimiterPerOrder(t *testing.T) {
	cfg := unlimited()
	cfg.PerOrderLimit = 3
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	orders := &fakeOrders{orders: []domain.Order{order}}
	limiter := &fakeLimiter{allow: false}
	loop := autobid.New(orders, &fakeSigner{},
		autobid.WithConfig(cfg),
		autobid.WithClock(func() time.Time { return t0 }),
		autobid.WithSharedLimiter(limiter),
	)

	assert.Empty(t, loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})))
	assert.Equal(t, []string{"order:o-1"}, limiter.keys)

	limiter.allow = true
	assert.Len(t, loop.Handle(context.Background(), announcement("a-2", domain.PredictedLeg{MarketID: marketA, Prediction: true})), 1)
}

func TestHandle_IgnoresOwnAuctionsAndBadLegs(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)

	own := announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})
	own.Taker = "0x00000000000000000000000000000000000000CC"
	assert.Empty(t, h.loop.Handle(context.Background(), own))

	bad := announcement("a-2")
	bad.PredictedOutcomes = []string{"0xdeadbeef"}
	assert.Empty(t, h.loop.Handle(context.Background(), bad))

	assert.Zero(t, h.orders.listCount())
}

func TestHandle_OrderCacheRefresh(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	leg := domain.PredictedLeg{MarketID: marketA, Prediction: true}

	h.loop.Handle(context.Background(), announcement("a-1", leg))
	h.loop.Handle(context.Background(), announcement("a-2", leg))
	assert.Equal(t, 1, h.orders.listCount())

	h.clock.Advance(31 * time.Second)
	h.orders.listErr = errors.New("db down")
	got := h.loop.Handle(context.Background(), announcement("a-3", leg))
	assert.Equal(t, 2, h.orders.listCount())
	assert.Len(t, got, 1, "stale cache keeps serving")

	h.loop.Refresh()
	h.loop.Handle(context.Background(), announcement("a-4", leg))
	assert.Equal(t, 3, h.orders.listCount())
}

func TestHandle_NoOrdersOnFirstLoadFailure(t *testing.T) {
	h := newHarness(t, unlimited())
	h.orders.listErr = errors.New("db down")

	assert.Empty(t, h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})))
}

func TestHandle_CapsMakerWager(t *testing.T) {
	order := restingOrder("o-1", 90, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	order.MaxWager = big.NewInt(2_000_000)
	h := newHarness(t, unlimited(), order)

	got := h.loop.Handle(context.Background(), announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true}))
	require.Len(t, got, 1)
	assert.Equal(t, "2000000", got[0].MakerWager)
}

func TestAttachAndRun(t *testing.T) {
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	h := newHarness(t, unlimited(), order)
	src := &fakeSource{}
	h.loop.Attach(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	msg, err := transport.NewMessage("auction.started", map[string]any{
		"auctionId":         "a-9",
		"wager":             "1000000",
		"resolver":          "0x00000000000000000000000000000000000000aa",
		"predictedOutcomes": []string{encodeLegs(domain.PredictedLeg{MarketID: marketA, Prediction: true})},
		"taker":             "0x00000000000000000000000000000000000000bb",
		"takerNonce":        "3",
		"chainId":           42161,
	})
	require.NoError(t, err)
	src.deliver(msg)
	src.deliver(transport.Message{Type: "auction.started", Payload: json.RawMessage(`{"wager":"1"}`)})
	src.deliver(transport.Message{Type: "auction.bids", Payload: json.RawMessage(`{"bids":[]}`)})

	require.Eventually(t, func() bool { return h.bus.count("rfq:decisions") == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMetrics_CountDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := autobid.NewMetrics(reg)
	order := restingOrder("o-1", 50, domain.ConditionSelection{ID: marketA, Outcome: domain.OutcomeNo})
	loop := autobid.New(&fakeOrders{orders: []domain.Order{order}}, &fakeSigner{},
		autobid.WithConfig(unlimited()),
		autobid.WithClock(func() time.Time { return t0 }),
		autobid.WithMetrics(metrics),
	)
	ann := announcement("a-1", domain.PredictedLeg{MarketID: marketA, Prediction: true})

	loop.Handle(context.Background(), ann)
	loop.Handle(context.Background(), ann)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "rfq_autobid_decisions_total"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "rfq_autobid_active_orders"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
