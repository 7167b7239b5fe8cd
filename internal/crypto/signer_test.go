package crypto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testParams() domain.AuctionParams {
	return domain.AuctionParams{
		Wager:             "1000000",
		Resolver:          "0x00000000000000000000000000000000000000aa",
		PredictedOutcomes: []string{"0x00"},
		Taker:             "0x00000000000000000000000000000000000000bb",
		TakerNonce:        "7",
		ChainID:           42161,
	}
}

func TestSigner_SignAuctionRecovers(t *testing.T) {
	s, err := NewSigner(testKey, 42161)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	sig, signedAt, err := s.SignAuction(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, "1700000000", signedAt)
	assert.Len(t, sig, 2+65*2)

	digest, err := s.AuctionDigest(testParams(), 1_700_000_000)
	require.NoError(t, err)
	addr, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestSigner_SignAuctionRejectsOtherChain(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)

	_, _, err = s.SignAuction(context.Background(), testParams())
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestSigner_SignAuctionRejectsBadAmounts(t *testing.T) {
	s, err := NewSigner(testKey, 42161)
	require.NoError(t, err)

	p := testParams()
	p.Wager = "-1"
	_, _, err = s.SignAuction(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)

	p = testParams()
	p.PredictedOutcomes = []string{"zz"}
	_, _, err = s.SignAuction(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestSigner_SignBidRecovers(t *testing.T) {
	s, err := NewSigner(testKey, 42161)
	require.NoError(t, err)

	bid := domain.QuoteBid{
		AuctionID:     "a-1",
		Maker:         s.Maker(),
		MakerWager:    "250000",
		MakerDeadline: 1_700_000_060,
		MakerNonce:    "99",
	}
	sig, err := s.SignBid(context.Background(), bid)
	require.NoError(t, err)

	digest, err := s.BidDigest(bid)
	require.NoError(t, err)
	addr, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	bid.MakerWager = "250001"
	other, err := s.BidDigest(bid)
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestSigner_SignBidRequiresAuctionID(t *testing.T) {
	s, err := NewSigner(testKey, 42161)
	require.NoError(t, err)

	_, err = s.SignBid(context.Background(), domain.QuoteBid{MakerWager: "1", MakerNonce: "1"})
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := NewSigner("not-a-key", 1)
	assert.Error(t, err)
}
