// Package outcome encodes parlay legs into the tuple(bytes32,bool)[] payload
// consumed by the on-chain resolver, and decodes it back.
package outcome

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// legsArguments describes abi.encode((bytes32 marketId, bool prediction)[]).
var legsArguments abi.Arguments

func init() {
	legsType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "marketId", Type: "bytes32"},
		{Name: "prediction", Type: "bool"},
	})
	if err != nil {
		panic("outcome: legs abi type: " + err.Error())
	}
	legsArguments = abi.Arguments{{Name: "legs", Type: legsType}}
}

// resolverLeg mirrors the resolver's tuple. Field names follow the abigen
// camel-case mapping so abi.ConvertType can convert unpacked values.
type resolverLeg struct {
	MarketId   [32]byte //nolint:revive,stylecheck // must match abi.ToCamelCase("marketId")
	Prediction bool
}

// NormalizeMarketID returns the lower-case, 0x-prefixed, 32-byte (left
// zero-padded) hex form of id.
func NormalizeMarketID(id string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return "", fmt.Errorf("outcome: empty market id")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("outcome: market id %q: %w", id, err)
	}
	if len(raw) > common.HashLength {
		return "", fmt.Errorf("outcome: market id %q longer than 32 bytes", id)
	}
	return common.BytesToHash(raw).Hex(), nil
}

// Normalize returns legs with every market id normalized. Legs whose id
// cannot be normalized are dropped.
func Normalize(legs []domain.PredictedLeg) []domain.PredictedLeg {
	out := make([]domain.PredictedLeg, 0, len(legs))
	for _, l := range legs {
		id, err := NormalizeMarketID(l.MarketID)
		if err != nil {
			continue
		}
		out = append(out, domain.PredictedLeg{MarketID: id, Prediction: l.Prediction})
	}
	return out
}

// Encode ABI-encodes legs as a tuple(bytes32,bool)[].
func Encode(legs []domain.PredictedLeg) ([]byte, error) {
	tuples := make([]resolverLeg, 0, len(legs))
	for _, l := range legs {
		id, err := NormalizeMarketID(l.MarketID)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, resolverLeg{
			MarketId:   common.HexToHash(id),
			Prediction: l.Prediction,
		})
	}

	data, err := legsArguments.Pack(tuples)
	if err != nil {
		return nil, fmt.Errorf("outcome: pack legs: %w", err)
	}
	return data, nil
}

// EncodeHex is Encode with 0x-prefixed hex output, the form carried in
// AuctionParams.PredictedOutcomes.
func EncodeHex(legs []domain.PredictedLeg) (string, error) {
	data, err := Encode(legs)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

// Decode unpacks a tuple(bytes32,bool)[] payload. Malformed input yields an
// empty list, never an error: callers treat "no legs" as "no match".
func Decode(payload []byte) (legs []domain.PredictedLeg) {
	defer func() {
		if r := recover(); r != nil {
			legs = []domain.PredictedLeg{}
		}
	}()

	if len(payload) == 0 {
		return []domain.PredictedLeg{}
	}

	values, err := legsArguments.Unpack(payload)
	if err != nil || len(values) != 1 {
		return []domain.PredictedLeg{}
	}
	tuples := *abi.ConvertType(values[0], new([]resolverLeg)).(*[]resolverLeg)

	legs = make([]domain.PredictedLeg, 0, len(tuples))
	for _, t := range tuples {
		legs = append(legs, domain.PredictedLeg{
			MarketID:   strings.ToLower(common.Hash(t.MarketId).Hex()),
			Prediction: t.Prediction,
		})
	}
	return legs
}

// DecodeHex accepts either one hex payload or a one-element list of them, as
// found in the predictedOutcomes wire field. Any other arity, or bad hex,
// yields an empty list.
func DecodeHex(payloads ...string) []domain.PredictedLeg {
	if len(payloads) != 1 {
		return []domain.PredictedLeg{}
	}
	data, err := hexutil.Decode(strings.TrimSpace(payloads[0]))
	if err != nil {
		return []domain.PredictedLeg{}
	}
	return Decode(data)
}
