package auction_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

const (
	resolverAddr = "0x1111111111111111111111111111111111111111"
	takerAddr    = "0x2222222222222222222222222222222222222222"
)

func testParams(wager string) domain.AuctionParams {
	return domain.AuctionParams{
		Wager:             wager,
		Resolver:          resolverAddr,
		PredictedOutcomes: []string{"0xdeadbeef"},
		Taker:             takerAddr,
		TakerNonce:        "7",
		ChainID:           42161,
	}
}

func newController(t *testing.T, tr *fakeTransport, opts ...auction.Option) *auction.Controller {
	t.Helper()
	base := []auction.Option{
		auction.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		auction.WithConfig(auction.Config{
			Debounce: 30 * time.Millisecond,
			OpenWait: 100 * time.Millisecond,
		}),
		auction.WithMetrics(auction.NewMetrics(prometheus.NewRegistry())),
	}
	c := auction.New(tr, append(base, opts...)...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSent(t *testing.T, tr *fakeTransport, n int) []transport.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.sentOfType(auction.TypeStart)) >= n },
		time.Second, 5*time.Millisecond)
	return tr.sentOfType(auction.TypeStart)
}

func payloadOf(t *testing.T, m transport.Message) domain.AuctionParams {
	t.Helper()
	var p domain.AuctionParams
	require.NoError(t, json.Unmarshal(m.Payload, &p))
	return p
}

// startAuction sends one request and acknowledges it as auctionID.
func startAuction(t *testing.T, tr *fakeTransport, c *auction.Controller, auctionID string) {
	t.Helper()
	require.NoError(t, c.RequestQuotes(testParams("1000"), true))
	n := len(tr.sentOfType(auction.TypeStart))
	waitSent(t, tr, n+1)
	tr.deliver(auction.TypeAck, map[string]string{"auctionId": auctionID})
	require.Equal(t, auctionID, c.Snapshot().AuctionID)
}

func bid(auctionID, maker, wager string, deadline int64) map[string]any {
	return map[string]any{
		"auctionId":      auctionID,
		"maker":          maker,
		"makerWager":     wager,
		"makerDeadline":  deadline,
		"makerSignature": "0xsig",
		"makerNonce":     "1",
	}
}

func TestRequestQuotes_DebounceCoalesces(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	for _, w := range []string{"1", "12", "123", "1234", "12345"} {
		require.NoError(t, c.RequestQuotes(testParams(w), false))
	}

	waitSent(t, tr, 1)
	time.Sleep(80 * time.Millisecond)
	sent := tr.sentOfType(auction.TypeStart)
	require.Len(t, sent, 1)
	assert.Equal(t, "12345", payloadOf(t, sent[0]).Wager)

	last, ok := c.LastSentParams()
	require.True(t, ok)
	assert.Equal(t, "12345", last.Wager)
}

func TestRequestQuotes_SkipsIdenticalInFlightUnlessForced(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	waitSent(t, tr, 1)

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, tr.sentOfType(auction.TypeStart), 1)

	require.NoError(t, c.RequestQuotes(testParams("1000"), true))
	waitSent(t, tr, 2)
}

func TestRequestQuotes_ReturningToInFlightCancelsPending(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	waitSent(t, tr, 1)

	require.NoError(t, c.RequestQuotes(testParams("2000"), false))
	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, tr.sentOfType(auction.TypeStart), 1)
}

func TestRequestQuotes_RejectsInvalidParams(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	bad := testParams("10.5")
	err := c.RequestQuotes(bad, false)
	require.ErrorIs(t, err, domain.ErrInvalidParams)

	bad = testParams("10")
	bad.Resolver = "not-an-address"
	require.ErrorIs(t, c.RequestQuotes(bad, false), domain.ErrInvalidParams)

	bad = testParams("10")
	bad.PredictedOutcomes = nil
	require.ErrorIs(t, c.RequestQuotes(bad, false), domain.ErrInvalidParams)
}

func TestRequestQuotes_WaitsForOpen(t *testing.T) {
	tr := newFakeTransport(transport.StateConnecting)
	c := newController(t, tr, auction.WithConfig(auction.Config{
		Debounce: 10 * time.Millisecond,
		OpenWait: time.Second,
	}))

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	require.Eventually(t, func() bool { return c.Snapshot().AwaitingAck }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.sentOfType(auction.TypeStart))

	tr.open()
	waitSent(t, tr, 1)
}

func TestRequestQuotes_OpenWaitFallbackSends(t *testing.T) {
	tr := newFakeTransport(transport.StateConnecting)
	c := newController(t, tr, auction.WithConfig(auction.Config{
		Debounce: 10 * time.Millisecond,
		OpenWait: 40 * time.Millisecond,
	}))

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	waitSent(t, tr, 1)
	assert.Equal(t, transport.StateConnecting, tr.State())
}

func TestAck_SetsAuctionIDAndClearsAwaiting(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	waitSent(t, tr, 1)
	assert.True(t, c.Snapshot().AwaitingAck)

	tr.deliver(auction.TypeAck, map[string]string{"auctionId": "a-1"})
	snap := c.Snapshot()
	assert.Equal(t, "a-1", snap.AuctionID)
	assert.False(t, snap.AwaitingAck)
}

func TestBids_ReplaceSnapshotForCurrentAuction(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)
	startAuction(t, tr, c, "a-1")

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xA", "100", future),
		bid("a-1", "0xB", "150", future),
	}})
	require.Len(t, c.Snapshot().Bids, 2)
	assert.Equal(t, "0xa", c.Snapshot().Bids[0].Maker)

	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xC", "90", future),
	}})
	bids := c.Snapshot().Bids
	require.Len(t, bids, 1)
	assert.Equal(t, "0xc", bids[0].Maker)
}

func TestBids_StaleAuctionIsDropped(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)
	startAuction(t, tr, c, "a-1")

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{bid("a-1", "0xa", "100", future)}})
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{bid("a-0", "0xb", "999", future)}})

	bids := c.Snapshot().Bids
	require.Len(t, bids, 1)
	assert.Equal(t, "0xa", bids[0].Maker)
}

func TestBids_DroppedWhileAwaitingNewerAck(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)
	startAuction(t, tr, c, "a-1")

	require.NoError(t, c.RequestQuotes(testParams("2000"), false))
	waitSent(t, tr, 2)

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{bid("a-1", "0xa", "100", future)}})

	snap := c.Snapshot()
	assert.True(t, snap.AwaitingAck)
	assert.Empty(t, snap.AuctionID)
	assert.Empty(t, snap.Bids)
}

func TestBids_PartialParseSkipsOnlyBadEntries(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)
	startAuction(t, tr, c, "a-1")

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xa", "100", future),
		"garbage",
		bid("a-1", "0xb", "not-a-number", future),
		bid("a-1", "0xc", "300", future),
	}})

	bids := c.Snapshot().Bids
	require.Len(t, bids, 2)
	assert.Equal(t, "0xa", bids[0].Maker)
	assert.Equal(t, "0xc", bids[1].Maker)
}

func TestBids_UnparseableMessageKeepsExistingList(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)
	startAuction(t, tr, c, "a-1")

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{bid("a-1", "0xa", "100", future)}})
	tr.deliver(auction.TypeBids, "not an object")
	tr.deliver(auction.TypeBids, map[string]any{"bids": "nope"})

	assert.Len(t, c.Snapshot().Bids, 1)
}

func TestBestBid_SelectionAndExpiry(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	now := time.Now()
	best, status := c.BestBid(now)
	assert.Nil(t, best)
	assert.Equal(t, domain.BidStatusNone, status)

	startAuction(t, tr, c, "a-1")
	future := now.Add(time.Hour).Unix()
	past := now.Add(-time.Hour).Unix()

	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xa", "100", future),
		bid("a-1", "0xb", "150", future),
	}})
	best, status = c.BestBid(now)
	require.NotNil(t, best)
	assert.Equal(t, "0xb", best.Maker)
	assert.Equal(t, domain.BidStatusAvailable, status)

	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xa", "100", future),
		bid("a-1", "0xb", "150", past),
	}})
	best, _ = c.BestBid(now)
	require.NotNil(t, best)
	assert.Equal(t, "0xa", best.Maker)

	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{
		bid("a-1", "0xa", "100", past),
		bid("a-1", "0xb", "150", past),
	}})
	best, status = c.BestBid(now)
	assert.Nil(t, best)
	assert.Equal(t, domain.BidStatusExpired, status)
	assert.Equal(t, "expired", c.Status(now).BestBidStatus)
}

func TestSelectBest_TiesGoToFirst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	deadline := now.Add(time.Minute).Unix()
	bids := []domain.QuoteBid{
		{Maker: "0xa", MakerWager: "100", MakerDeadline: deadline},
		{Maker: "0xb", MakerWager: "100", MakerDeadline: deadline},
	}
	best, status := auction.SelectBest(bids, "1000", now)
	require.NotNil(t, best)
	assert.Equal(t, "0xa", best.Maker)
	assert.Equal(t, domain.BidStatusAvailable, status)
}

func TestSelectBest_DeadlineBoundaryIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bids := []domain.QuoteBid{{Maker: "0xa", MakerWager: "100", MakerDeadline: now.Unix()}}
	best, status := auction.SelectBest(bids, "1", now)
	assert.Nil(t, best)
	assert.Equal(t, domain.BidStatusExpired, status)
}

func TestSelectBest_LargeWagers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	deadline := now.Add(time.Minute).Unix()
	bids := []domain.QuoteBid{
		{Maker: "0xa", MakerWager: "900000000000000000000001", MakerDeadline: deadline},
		{Maker: "0xb", MakerWager: "900000000000000000000002", MakerDeadline: deadline},
	}
	best, _ := auction.SelectBest(bids, "100000000000000000000000", now)
	require.NotNil(t, best)
	assert.Equal(t, "0xb", best.Maker)
}

func TestOnChange_ObservesTransitions(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	changes := make(chan auction.Snapshot, 8)
	unregister := c.OnChange(func(s auction.Snapshot) { changes <- s })

	startAuction(t, tr, c, "a-1")

	first := <-changes
	assert.True(t, first.AwaitingAck)
	second := <-changes
	assert.Equal(t, "a-1", second.AuctionID)

	unregister()
	tr.deliver(auction.TypeAck, map[string]string{"auctionId": "a-2"})
	select {
	case <-changes:
		t.Fatal("observer called after unregister")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribe_SendsAndTracksAuction(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.Subscribe("a-9"))
	sent := tr.sentOfType(auction.TypeSubscribe)
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"auctionId":"a-9"}`, string(sent[0].Payload))

	future := time.Now().Add(time.Hour).Unix()
	tr.deliver(auction.TypeBids, map[string]any{"bids": []any{bid("a-9", "0xa", "5", future)}})
	assert.Len(t, c.Snapshot().Bids, 1)
}

func TestNotifyOrderCreated(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.NotifyOrderCreated(context.Background(), "a-1", "req-1", "0xtx"))
	sent := tr.sentOfType(auction.TypeOrder)
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"auctionId":"a-1","requestId":"req-1","txHash":"0xtx"}`, string(sent[0].Payload))

	tr.ackReply = func(string, any) (transport.Message, error) {
		return transport.Message{}, domain.ErrAckTimeout
	}
	err := c.NotifyOrderCreated(context.Background(), "a-1", "", "")
	require.ErrorIs(t, err, domain.ErrAckTimeout)
}

type stubSigner struct{ err error }

func (s stubSigner) SignAuction(context.Context, domain.AuctionParams) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return "0xsigned", "1700000000", nil
}

func TestRequestQuotes_TakerSignerFillsSignature(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr, auction.WithTakerSigner(stubSigner{}))

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	sent := waitSent(t, tr, 1)
	p := payloadOf(t, sent[0])
	assert.Equal(t, "0xsigned", p.TakerSignature)
	assert.Equal(t, "1700000000", p.TakerSignedAt)
}

func TestRequestQuotes_SignerFailureSendsUnsigned(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr, auction.WithTakerSigner(stubSigner{err: errors.New("locked wallet")}))

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	sent := waitSent(t, tr, 1)
	assert.Empty(t, payloadOf(t, sent[0]).TakerSignature)
}

func TestClose_CancelsPendingAndClosesTransport(t *testing.T) {
	tr := newFakeTransport(transport.StateOpen)
	c := newController(t, tr)

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	require.NoError(t, c.Close())

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, tr.sentOfType(auction.TypeStart))
	assert.True(t, tr.isClosed())
	assert.Equal(t, 0, tr.listenerCount())
	assert.ErrorIs(t, c.RequestQuotes(testParams("1"), false), domain.ErrClosed)
}

func TestClose_AbandonsOpenWait(t *testing.T) {
	tr := newFakeTransport(transport.StateConnecting)
	c := newController(t, tr, auction.WithConfig(auction.Config{
		Debounce: 5 * time.Millisecond,
		OpenWait: 50 * time.Millisecond,
	}))

	require.NoError(t, c.RequestQuotes(testParams("1000"), false))
	require.Eventually(t, func() bool { return c.Snapshot().AwaitingAck }, time.Second, 2*time.Millisecond)
	require.NoError(t, c.Close())

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, tr.sentOfType(auction.TypeStart))
}
