package auction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// Wire message types.
const (
	TypeStart     = "auction.start"
	TypeAck       = "auction.ack"
	TypeBids      = "auction.bids"
	TypeStarted   = "auction.started"
	TypeSubscribe = "auction.subscribe"
	TypeOrder     = "order.created"
	TypePong      = "pong"
)

// Inbound is one decoded relayer message. The concrete type is one of
// Ack, Bids, Started, Pong or Unknown.
type Inbound interface {
	inbound()
}

// Ack assigns the relayer's id to the most recent auction.start.
type Ack struct {
	AuctionID string
}

// Bids is a full bid snapshot for one auction. Skipped counts entries that
// could not be normalized and were left out.
type Bids struct {
	AuctionID string
	Bids      []domain.QuoteBid
	Skipped   int
}

// Started announces a new auction to bidders.
type Started struct {
	Announcement domain.AuctionAnnouncement
}

// Pong is a heartbeat reply.
type Pong struct{}

// Unknown is any message type this client does not handle.
type Unknown struct {
	Type string
}

func (Ack) inbound()     {}
func (Bids) inbound()    {}
func (Started) inbound() {}
func (Pong) inbound()    {}
func (Unknown) inbound() {}

// Decode maps a transport message onto the Inbound union. An error means the
// whole message is unusable and should be dropped.
func Decode(msg transport.Message, now time.Time) (Inbound, error) {
	switch msg.Type {
	case TypeAck:
		var body struct {
			AuctionID flexString `json:"auctionId"`
		}
		if err := unmarshalPayload(msg, &body); err != nil {
			return nil, err
		}
		if body.AuctionID == "" {
			return nil, fmt.Errorf("auction: decode %s: missing auctionId: %w", msg.Type, domain.ErrDecode)
		}
		return Ack{AuctionID: string(body.AuctionID)}, nil

	case TypeBids:
		return decodeBids(msg)

	case TypeStarted:
		ann, err := decodeAnnouncement(msg, now)
		if err != nil {
			return nil, err
		}
		return Started{Announcement: ann}, nil

	case TypePong:
		return Pong{}, nil

	default:
		return Unknown{Type: msg.Type}, nil
	}
}

func unmarshalPayload(msg transport.Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("auction: decode %s: empty payload: %w", msg.Type, domain.ErrDecode)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("auction: decode %s: %w: %v", msg.Type, domain.ErrDecode, err)
	}
	return nil
}

func decodeBids(msg transport.Message) (Inbound, error) {
	var body struct {
		AuctionID flexString        `json:"auctionId"`
		Bids      []json.RawMessage `json:"bids"`
	}
	if err := unmarshalPayload(msg, &body); err != nil {
		return nil, err
	}

	out := Bids{Bids: make([]domain.QuoteBid, 0, len(body.Bids))}
	for _, raw := range body.Bids {
		bid, err := normalizeBid(raw)
		if err != nil {
			out.Skipped++
			continue
		}
		out.Bids = append(out.Bids, bid)
	}

	// All bids in one message share an auction; the first bid's id is
	// authoritative, with the envelope-level id as a fallback.
	if len(out.Bids) > 0 && out.Bids[0].AuctionID != "" {
		out.AuctionID = out.Bids[0].AuctionID
	} else {
		out.AuctionID = string(body.AuctionID)
	}
	if out.AuctionID == "" {
		return nil, fmt.Errorf("auction: decode %s: no auction id: %w", msg.Type, domain.ErrDecode)
	}
	return out, nil
}

// wireBid is the tolerant shape of one bid entry.
type wireBid struct {
	AuctionID      flexString `json:"auctionId"`
	Maker          flexString `json:"maker"`
	MakerWager     flexString `json:"makerWager"`
	MakerDeadline  flexString `json:"makerDeadline"`
	MakerSignature flexString `json:"makerSignature"`
	MakerNonce     flexString `json:"makerNonce"`
}

func normalizeBid(raw json.RawMessage) (domain.QuoteBid, error) {
	var w wireBid
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.QuoteBid{}, err
	}
	wager, err := integerString(string(w.MakerWager), "0")
	if err != nil {
		return domain.QuoteBid{}, fmt.Errorf("makerWager: %w", err)
	}
	nonce, err := integerString(string(w.MakerNonce), "0")
	if err != nil {
		return domain.QuoteBid{}, fmt.Errorf("makerNonce: %w", err)
	}
	deadline, err := integerString(string(w.MakerDeadline), "0")
	if err != nil {
		return domain.QuoteBid{}, fmt.Errorf("makerDeadline: %w", err)
	}
	deadlineSec, err := strconv.ParseInt(deadline, 10, 64)
	if err != nil {
		return domain.QuoteBid{}, fmt.Errorf("makerDeadline: %w", err)
	}

	return domain.QuoteBid{
		AuctionID:      string(w.AuctionID),
		Maker:          strings.ToLower(string(w.Maker)),
		MakerWager:     wager,
		MakerDeadline:  deadlineSec,
		MakerSignature: string(w.MakerSignature),
		MakerNonce:     nonce,
	}, nil
}

var errNotInteger = errors.New("not a non-negative integer")

// integerString coerces a decimal or exponent literal to a base-10 integer
// string. Empty input yields def.
func integerString(s, def string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", err
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return "", errNotInteger
	}
	return d.BigInt().String(), nil
}

func decodeAnnouncement(msg transport.Message, now time.Time) (domain.AuctionAnnouncement, error) {
	var body struct {
		AuctionID         flexString      `json:"auctionId"`
		Wager             flexString      `json:"wager"`
		Resolver          flexString      `json:"resolver"`
		PredictedOutcomes json.RawMessage `json:"predictedOutcomes"`
		Taker             flexString      `json:"taker"`
		TakerNonce        flexString      `json:"takerNonce"`
		ChainID           flexString      `json:"chainId"`
	}
	if err := unmarshalPayload(msg, &body); err != nil {
		return domain.AuctionAnnouncement{}, err
	}
	if body.AuctionID == "" {
		return domain.AuctionAnnouncement{}, fmt.Errorf("auction: decode %s: missing auctionId: %w", msg.Type, domain.ErrDecode)
	}

	wager, err := integerString(string(body.Wager), "0")
	if err != nil {
		return domain.AuctionAnnouncement{}, fmt.Errorf("auction: decode %s: wager: %w", msg.Type, domain.ErrDecode)
	}
	nonce, err := integerString(string(body.TakerNonce), "0")
	if err != nil {
		return domain.AuctionAnnouncement{}, fmt.Errorf("auction: decode %s: takerNonce: %w", msg.Type, domain.ErrDecode)
	}
	var chainID int64
	if body.ChainID != "" {
		chainID, err = strconv.ParseInt(string(body.ChainID), 10, 64)
		if err != nil {
			return domain.AuctionAnnouncement{}, fmt.Errorf("auction: decode %s: chainId: %w", msg.Type, domain.ErrDecode)
		}
	}

	return domain.AuctionAnnouncement{
		AuctionID:         string(body.AuctionID),
		Wager:             wager,
		Resolver:          string(body.Resolver),
		PredictedOutcomes: stringOrList(body.PredictedOutcomes),
		Taker:             string(body.Taker),
		TakerNonce:        nonce,
		ChainID:           chainID,
		ReceivedAt:        now,
	}, nil
}

// stringOrList accepts either "0x.." or ["0x..", ...].
func stringOrList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// flexString decodes a JSON string, number or null into its string form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}
