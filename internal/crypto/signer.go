// Package crypto provides wallet key loading and EIP-712 signing of auction
// requests and auto-bids.
package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	auctionTypeHash = ethcrypto.Keccak256(
		[]byte("AuctionRequest(uint256 wager,address resolver,bytes32 predictedOutcomes,address taker,uint256 takerNonce,uint256 signedAt)"),
	)

	bidTypeHash = ethcrypto.Keccak256(
		[]byte("AuctionBid(bytes32 auctionId,address maker,uint256 makerWager,uint256 makerDeadline,uint256 makerNonce)"),
	)
)

const (
	domainName    = "AuctionRFQ"
	domainVersion = "1"
)

// Signer signs auction requests (taker side) and bids (maker side) with one
// secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte // cached EIP-712 domain separator hash
	now        func() time.Time
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain the auctions run on.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  buildDomainSeparator(domainName, domainVersion, chainID),
		now:        time.Now,
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Maker returns the lowercase hex address used as the maker on bids.
func (s *Signer) Maker() string {
	return strings.ToLower(s.address.Hex())
}

// SignAuction signs an outbound auction request. signedAt is the unix time in
// seconds, as a decimal string.
func (s *Signer) SignAuction(_ context.Context, params domain.AuctionParams) (string, string, error) {
	if params.ChainID != 0 && params.ChainID != s.chainID {
		return "", "", fmt.Errorf("crypto/signer: chain %d, signer bound to %d: %w", params.ChainID, s.chainID, domain.ErrSigningFailed)
	}

	signedAt := s.now().Unix()
	digest, err := s.AuctionDigest(params, signedAt)
	if err != nil {
		return "", "", err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return "", "", err
	}
	return sig, strconv.FormatInt(signedAt, 10), nil
}

// SignBid signs a maker bid. AuctionID, Maker, MakerWager, MakerDeadline and
// MakerNonce are covered by the signature.
func (s *Signer) SignBid(_ context.Context, bid domain.QuoteBid) (string, error) {
	digest, err := s.BidDigest(bid)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// AuctionDigest returns the EIP-712 digest that SignAuction signs.
func (s *Signer) AuctionDigest(params domain.AuctionParams, signedAt int64) ([]byte, error) {
	wager, err := parseUint(params.Wager, "wager")
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint(params.TakerNonce, "takerNonce")
	if err != nil {
		return nil, err
	}
	outcomes, err := outcomesHash(params.PredictedOutcomes)
	if err != nil {
		return nil, err
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			auctionTypeHash,
			bigIntTo32Bytes(wager),
			common.LeftPadBytes(common.HexToAddress(params.Resolver).Bytes(), 32),
			outcomes,
			common.LeftPadBytes(common.HexToAddress(params.Taker).Bytes(), 32),
			bigIntTo32Bytes(nonce),
			bigIntTo32Bytes(big.NewInt(signedAt)),
		),
	)
	return eip712Hash(s.domainSep, structHash), nil
}

// BidDigest returns the EIP-712 digest that SignBid signs.
func (s *Signer) BidDigest(bid domain.QuoteBid) ([]byte, error) {
	if bid.AuctionID == "" {
		return nil, fmt.Errorf("crypto/signer: empty auction id: %w", domain.ErrSigningFailed)
	}
	wager, err := parseUint(bid.MakerWager, "makerWager")
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint(bid.MakerNonce, "makerNonce")
	if err != nil {
		return nil, err
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			bidTypeHash,
			ethcrypto.Keccak256([]byte(bid.AuctionID)),
			common.LeftPadBytes(common.HexToAddress(bid.Maker).Bytes(), 32),
			bigIntTo32Bytes(wager),
			bigIntTo32Bytes(big.NewInt(bid.MakerDeadline)),
			bigIntTo32Bytes(nonce),
		),
	)
	return eip712Hash(s.domainSep, structHash), nil
}

// RecoverAddress returns the address that produced sigHex over digest.
func RecoverAddress(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w: %w", domain.ErrSigningFailed, err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// outcomesHash hashes the concatenated encoded outcome payloads.
func outcomesHash(payloads []string) ([]byte, error) {
	var buf []byte
	for _, p := range payloads {
		b, err := hexutil.Decode(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("crypto/signer: invalid predicted outcomes: %w: %w", domain.ErrSigningFailed, err)
		}
		buf = append(buf, b...)
	}
	return ethcrypto.Keccak256(buf), nil
}

func parseUint(s, field string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("crypto/signer: invalid %s %q: %w", field, s, domain.ErrSigningFailed)
	}
	return n, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
