// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package jupiter rewrites shared-accounts route instructions produced by
// the external swap router so they execute against protocol-owned escrow
// under protocol-enforced bounds. The router's instruction is adversarial
// input: its account-list shape and argument layout are validated, its
// self-reported route is never trusted, and the only output bound the
// protocol honors is the minimum derived here.
package jupiter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidSelector  = errors.New("instruction data does not carry the shared-accounts route selector")
	ErrMalformedArgs    = errors.New("malformed shared-accounts route args")
	ErrUnknownSwapKind  = errors.New("unknown swap kind in route plan")
	ErrAccountListShape = errors.New("unexpected shared-accounts route account list shape")
)

// SharedAccountsRouteSelector prefixes the instruction data of every
// shared-accounts route call.
var SharedAccountsRouteSelector = [8]byte{193, 32, 155, 51, 65, 214, 156, 129}

// RoutePlanStep is one step of the router's internal plan. The swap kind is
// carried opaquely: variant id plus that variant's fixed-width parameter
// bytes. The protocol re-encodes it untouched and never interprets it.
type RoutePlanStep struct {
	Swap        SwapKind
	Percent     uint8
	InputIndex  uint8
	OutputIndex uint8
}

// SwapKind is a single venue selection inside a route plan.
type SwapKind struct {
	Kind uint8
	// Args holds the variant's parameter bytes (side/direction flags, token
	// ids, bridge-stake seeds). Length is fixed per kind.
	Args []byte
}

// swapKindArgLens maps variant id to parameter width. Derived from the
// router's published instruction layout; ids beyond the table are rejected
// rather than guessed at.
var swapKindArgLens = map[uint8]int{
	0: 0, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0, 6: 0, 7: 0,
	8: 1, // Crema: a_to_b
	9: 0, 10: 0, 11: 0,
	12: 1, // Serum: side
	13: 0, 14: 0,
	15: 1, // Aldrin: side
	16: 1, // AldrinV2: side
	17: 1, // Whirlpool: a_to_b
	18: 1, // Invariant: x_to_y
	19: 0, 20: 0,
	21: 1, // DeltaFi: stable
	22: 0,
	23: 1, // MarcoPolo: x_to_y
	24: 1, // Dradex: side
	25: 0, 26: 0,
	27: 1, // Openbook: side
	28: 1, // Phoenix: side
	29: 16, // Symmetry: from_token_id, to_token_id
	30: 0, 31: 0, 32: 0,
	33: 4, // StakeDexSwapViaStake: bridge_stake_seed
	34: 0, 35: 0, 36: 0, 37: 0, 38: 0,
	39: 1, // OpenbookV2: side
	40: 0,
	41: 4, // StakeDexPrefundWithdrawStakeAndDepositStake: bridge_stake_seed
}

// SharedAccountsRouteArgs is the router's own instruction-data payload,
// decoded and re-encoded byte-compatibly. All integers little-endian, per
// the router's convention (unlike the protocol's big-endian wire).
type SharedAccountsRouteArgs struct {
	AuthorityID     uint8
	RoutePlan       []RoutePlanStep
	InAmount        uint64
	QuotedOutAmount uint64
	SlippageBps     uint16
	PlatformFeeBps  uint8
}

// DecodeSharedAccountsRouteArgs parses router instruction data, selector
// included.
func DecodeSharedAccountsRouteArgs(data []byte) (SharedAccountsRouteArgs, error) {
	if len(data) < len(SharedAccountsRouteSelector) ||
		!bytes.Equal(data[:len(SharedAccountsRouteSelector)], SharedAccountsRouteSelector[:]) {
		return SharedAccountsRouteArgs{}, ErrInvalidSelector
	}
	data = data[len(SharedAccountsRouteSelector):]

	var args SharedAccountsRouteArgs
	if len(data) < 5 {
		return SharedAccountsRouteArgs{}, fmt.Errorf("%w: truncated header", ErrMalformedArgs)
	}
	args.AuthorityID = data[0]
	planLen := binary.LittleEndian.Uint32(data[1:5])
	data = data[5:]

	for i := uint32(0); i < planLen; i++ {
		if len(data) < 1 {
			return SharedAccountsRouteArgs{}, fmt.Errorf("%w: truncated route plan", ErrMalformedArgs)
		}
		kind := data[0]
		argLen, ok := swapKindArgLens[kind]
		if !ok {
			return SharedAccountsRouteArgs{}, fmt.Errorf("%w: id %d", ErrUnknownSwapKind, kind)
		}
		if len(data) < 1+argLen+3 {
			return SharedAccountsRouteArgs{}, fmt.Errorf("%w: truncated route plan step", ErrMalformedArgs)
		}
		step := RoutePlanStep{
			Swap:        SwapKind{Kind: kind, Args: append([]byte(nil), data[1:1+argLen]...)},
			Percent:     data[1+argLen],
			InputIndex:  data[1+argLen+1],
			OutputIndex: data[1+argLen+2],
		}
		args.RoutePlan = append(args.RoutePlan, step)
		data = data[1+argLen+3:]
	}

	if len(data) != 19 {
		return SharedAccountsRouteArgs{}, fmt.Errorf("%w: %d bytes after route plan, want 19", ErrMalformedArgs, len(data))
	}
	args.InAmount = binary.LittleEndian.Uint64(data[0:8])
	args.QuotedOutAmount = binary.LittleEndian.Uint64(data[8:16])
	args.SlippageBps = binary.LittleEndian.Uint16(data[16:18])
	args.PlatformFeeBps = data[18]

	return args, nil
}

// EncodeSharedAccountsRouteArgs serializes args back to router instruction
// data. Decode then encode reproduces the input bytes exactly.
func EncodeSharedAccountsRouteArgs(args SharedAccountsRouteArgs) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(SharedAccountsRouteSelector[:])
	buf.WriteByte(args.AuthorityID)

	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(args.RoutePlan)))
	buf.Write(lenBytes[:])

	for _, step := range args.RoutePlan {
		argLen, ok := swapKindArgLens[step.Swap.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownSwapKind, step.Swap.Kind)
		}
		if len(step.Swap.Args) != argLen {
			return nil, fmt.Errorf("%w: swap kind %d carries %d arg bytes, want %d",
				ErrMalformedArgs, step.Swap.Kind, len(step.Swap.Args), argLen)
		}
		buf.WriteByte(step.Swap.Kind)
		buf.Write(step.Swap.Args)
		buf.WriteByte(step.Percent)
		buf.WriteByte(step.InputIndex)
		buf.WriteByte(step.OutputIndex)
	}

	var tail [19]byte
	binary.LittleEndian.PutUint64(tail[0:8], args.InAmount)
	binary.LittleEndian.PutUint64(tail[8:16], args.QuotedOutAmount)
	binary.LittleEndian.PutUint16(tail[16:18], args.SlippageBps)
	tail[18] = args.PlatformFeeBps
	buf.Write(tail[:])

	return buf.Bytes(), nil
}
