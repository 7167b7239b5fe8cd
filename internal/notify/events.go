package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// Titles are prefixes senders may key formatting on.
const (
	TitleAutoBid      = "Auto-bid"
	TitleOrderPaused  = "Order paused"
	TitleDisconnected = "Relayer disconnected"
)

// DecisionMessage renders an auto-bid decision for human readers.
func DecisionMessage(d domain.BidDecision) (title, message string) {
	side := "direct"
	if d.Match.Inverted {
		side = "inverted"
	}
	title = TitleAutoBid + " " + shortID(d.AuctionID)

	var b strings.Builder
	fmt.Fprintf(&b, "order: %s\n", d.OrderID)
	fmt.Fprintf(&b, "auction: %s\n", d.AuctionID)
	fmt.Fprintf(&b, "match: %s\n", side)
	fmt.Fprintf(&b, "maker wager: %s\n", d.MakerWager)
	fmt.Fprintf(&b, "deadline: %s", time.Unix(d.MakerDeadline, 0).UTC().Format(time.RFC3339))
	return title, b.String()
}

// AutoPauseMessage renders an expired order being paused.
func AutoPauseMessage(orderID string, at time.Time) (title, message string) {
	return TitleOrderPaused, fmt.Sprintf("order: %s\nreason: expired\npaused at: %s",
		orderID, at.UTC().Format(time.RFC3339))
}

// ConnectionLostMessage renders an unplanned relayer disconnect.
func ConnectionLostMessage(target string, cause error) (title, message string) {
	message = "target: " + target
	if cause != nil {
		message += "\nerror: " + cause.Error()
	}
	return TitleDisconnected, message
}

// splitFields parses the "key: value" lines the renderers above produce.
// Anything else is returned as free text.
func splitFields(message string) (fields [][2]string, text []string) {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ": ")
		if !ok || k == "" || len(k) > 32 {
			text = append(text, line)
			continue
		}
		fields = append(fields, [2]string{k, v})
	}
	return fields, text
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
