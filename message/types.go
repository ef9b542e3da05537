// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message implements the canonical wire codec for the settlement
// message carried across the bridge: who receives the transfer, how final
// delivery is authorized, and which asset the recipient ends up with.
//
// All protocol integers are big-endian. The only variable-length segment is
// the payload buffer of RedeemPayload, whose length is implicit (the rest of
// the message).
package message

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

// Address is a 32-byte chain-agnostic account address. Contract-ledger
// addresses (20 bytes) are left-padded to 32 bytes.
type Address [32]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// EvmAddress widens a 20-byte contract-ledger address to the universal form.
func EvmAddress(addr common.Address) Address {
	var out Address
	copy(out[12:], addr[:])
	return out
}

var (
	ErrMalformedMessage = errors.New("malformed settlement message")
	ErrSameMint         = errors.New("output token address equals the stable asset")
	ErrPayloadTooLarge  = errors.New("redeem payload too large")
	ErrValueOutOfRange  = errors.New("field value out of encodable range")
)

// MaxRelayingFee is the largest relaying fee encodable on the wire (uint48).
const MaxRelayingFee = uint64(1)<<48 - 1

// MaxPayloadLen bounds the payload buffer so a message always fits in a
// single bridge payload.
const MaxPayloadLen = 1 << 16

// SwapMessage is the settlement message. Immutable once encoded into a
// bridge payload; constructed once per transfer.
type SwapMessage struct {
	Recipient   Address
	RedeemMode  RedeemMode
	OutputToken OutputToken
}

// OutputToken describes what the recipient receives. It is a closed sum:
// exactly one of OutputUsdc, OutputGas or OutputOther. Consumers must switch
// over all three variants; there is no default.
type OutputToken interface {
	outputToken()
}

// OutputUsdc delivers the bridged stable asset unchanged.
type OutputUsdc struct{}

// OutputGas swaps the bridged stable asset into the destination chain's
// native currency.
type OutputGas struct {
	Swap SwapSpec
}

// OutputOther swaps the bridged stable asset into an arbitrary token.
// Address must differ from the stable asset's address.
type OutputOther struct {
	Address Address
	Swap    SwapSpec
}

func (OutputUsdc) outputToken()  {}
func (OutputGas) outputToken()   {}
func (OutputOther) outputToken() {}

// NewOutputOther builds an OutputOther, rejecting the stable asset address
// up front so that a degenerate swap can never be encoded.
func NewOutputOther(address, stableAsset Address, swap SwapSpec) (OutputOther, error) {
	if address == stableAsset {
		return OutputOther{}, ErrSameMint
	}
	return OutputOther{Address: address, Swap: swap}, nil
}

// RequiresSwap reports whether the output token needs a swap on redemption
// and returns its swap spec.
func RequiresSwap(token OutputToken) (SwapSpec, bool) {
	switch t := token.(type) {
	case OutputUsdc:
		return SwapSpec{}, false
	case OutputGas:
		return t.Swap, true
	case OutputOther:
		return t.Swap, true
	default:
		panic(fmt.Sprintf("message: unknown output token %T", token))
	}
}

// RedeemMode describes how final delivery is authorized. Closed sum of
// RedeemDirect, RedeemRelay and RedeemPayload.
type RedeemMode interface {
	redeemMode()
}

// RedeemDirect delivers straight to the recipient's account.
type RedeemDirect struct{}

// RedeemRelay compensates whichever party completes delivery and optionally
// tops up the recipient with destination-chain native currency.
type RedeemRelay struct {
	// GasDropoff is the requested native top-up in normalized (on-wire)
	// units. See relayer.DenormalizeGasDropoff for the chain scaling.
	GasDropoff uint32
	// RelayingFee is denominated in the stable asset. Serialized as uint48.
	RelayingFee uint64
}

// RedeemPayload marks the recipient as a program: redemption stages custody
// plus the opaque payload for a later out-of-band claim.
type RedeemPayload struct {
	Sender Address
	Buf    []byte
}

func (RedeemDirect) redeemMode()  {}
func (RedeemRelay) redeemMode()   {}
func (RedeemPayload) redeemMode() {}

// SwapSpec constrains the swap performed on redemption.
type SwapSpec struct {
	// Deadline is a unix timestamp after which the swap must not execute.
	// Zero means no deadline.
	Deadline uint32
	// LimitAmount is the minimum acceptable swap output.
	LimitAmount uint64
	Router      RouterKind
}

// RouterKind identifies the external router driving the swap, with
// router-specific parameters. Closed sum of RouterUniswapV3, RouterTraderJoe
// and RouterJupiterV6.
type RouterKind interface {
	routerKind()
}

// RouterUniswapV3 routes through Uniswap V3 pools on a contract ledger.
type RouterUniswapV3 struct {
	// FirstLegFee is the fee tier of the stable-asset leg, in hundredths of
	// a basis point. Serialized as uint24.
	FirstLegFee uint32
	Path        []UniswapHop
}

// UniswapHop is one leg of a Uniswap V3 route.
type UniswapHop struct {
	Token common.Address
	// Fee tier of this leg, serialized as uint24.
	Fee uint32
}

// RouterTraderJoe routes through Trader Joe liquidity book pairs.
type RouterTraderJoe struct {
	FirstPoolID TraderJoePoolID
	Path        []TraderJoeHop
}

// TraderJoePoolID selects a liquidity book pair.
type TraderJoePoolID struct {
	Version uint8
	BinSize uint16
}

// TraderJoeHop is one leg of a Trader Joe route.
type TraderJoeHop struct {
	Token  common.Address
	PoolID TraderJoePoolID
}

// RouterJupiterV6 routes through the shared-accounts router on the
// account-based ledger. DexProgramID optionally pins the route to a single
// underlying dex program.
type RouterJupiterV6 struct {
	DexProgramID *Address
}

func (RouterUniswapV3) routerKind() {}
func (RouterTraderJoe) routerKind() {}
func (RouterJupiterV6) routerKind() {}

// SwapHops returns the number of swap legs a router plan requires. Used by
// the fee engine to scale the swap component of the relayer fee.
func SwapHops(router RouterKind) int {
	switch r := router.(type) {
	case RouterUniswapV3:
		return len(r.Path) + 1
	case RouterTraderJoe:
		return len(r.Path) + 1
	case RouterJupiterV6:
		return 1
	default:
		panic(fmt.Sprintf("message: unknown router kind %T", router))
	}
}
