package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/outcome"
)

// parseLeg reads "<marketId>:yes" or "<marketId>:no".
func parseLeg(v string) (domain.PredictedLeg, error) {
	id, side, ok := strings.Cut(v, ":")
	if !ok {
		return domain.PredictedLeg{}, fmt.Errorf("leg %q: want <marketId>:yes|no", v)
	}
	marketID, err := outcome.NormalizeMarketID(id)
	if err != nil {
		return domain.PredictedLeg{}, fmt.Errorf("leg %q: %w", v, err)
	}

	var prediction bool
	switch strings.ToLower(side) {
	case "yes", "y", "true":
		prediction = true
	case "no", "n", "false":
	default:
		return domain.PredictedLeg{}, fmt.Errorf("leg %q: side must be yes or no", v)
	}
	return domain.PredictedLeg{MarketID: marketID, Prediction: prediction}, nil
}

// renderSnapshot prints the bid table for one session snapshot, best bid
// first.
func renderSnapshot(w io.Writer, snap auction.Snapshot) {
	now := time.Now()

	switch {
	case snap.AwaitingAck:
		fmt.Fprintln(w, "\nwaiting for relayer to acknowledge auction")
		return
	case snap.AuctionID == "":
		return
	}

	wager := ""
	if snap.LastSent != nil {
		wager = snap.LastSent.Wager
	}
	best, status := auction.SelectBest(snap.Bids, wager, now)

	fmt.Fprintf(w, "\n[%s] auction %s: %d bid(s), best %s\n",
		now.Format(time.TimeOnly), snap.AuctionID, len(snap.Bids), status)

	table := tablewriter.NewWriter(w)
	table.Header("Best", "Maker", "Maker wager", "Expires in", "Nonce")
	for _, bid := range snap.Bids {
		mark := ""
		if best != nil && bid == *best {
			mark = "*"
		}
		expires := "expired"
		if !bid.Expired(now) {
			expires = time.Unix(bid.MakerDeadline, 0).Sub(now).Truncate(time.Second).String()
		}
		table.Append(mark, shortAddr(bid.Maker), bid.MakerWager, expires, bid.MakerNonce)
	}
	table.Render()
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
