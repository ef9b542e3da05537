// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jupiter

import (
	"fmt"
	"math/bits"

	"github.com/zeebo/blake3"

	"github.com/luxfi/swaplayer/message"
)

// AccountMeta names one account an instruction touches.
type AccountMeta struct {
	Key        message.Address
	IsSigner   bool
	IsWritable bool
}

// Instruction is a router call: program, ordered account list, opaque data.
type Instruction struct {
	ProgramID message.Address
	Accounts  []AccountMeta
	Data      []byte
}

// Fixed positions in the shared-accounts route account list. Everything past
// program is route-specific remaining accounts and passes through untouched.
const (
	idxTokenProgram = iota
	idxProgramAuthority
	idxUserTransferAuthority
	idxSourceToken
	idxProgramSourceToken
	idxProgramDestinationToken
	idxDestinationAccount
	idxSourceMint
	idxDestinationMint
	idxPlatformFee
	idxToken2022Program
	idxEventAuthority
	idxProgram

	sharedAccountsRouteAccounts = idxProgram + 1
)

// TokenAccount derives the canonical token account holding mint balances for
// owner. The derivation is deterministic so the gateway and the adapter agree
// on escrow locations without coordination.
func TokenAccount(owner, mint message.Address) message.Address {
	hasher := blake3.New()
	hasher.Write([]byte("swaplayer:token-account"))
	hasher.Write(owner[:])
	hasher.Write(mint[:])

	var acct message.Address
	copy(acct[:], hasher.Sum(nil))
	return acct
}

// ModifyOptions override the router-provided amounts when rewriting an
// instruction. Nil quoted amount defaults to InAmount; nil slippage defaults
// to zero tolerance.
type ModifyOptions struct {
	InAmount        uint64
	QuotedOutAmount *uint64
	SlippageBps     *uint16
	// CPI marks the substituted authority as a non-signer; the invoking
	// program signs for it instead.
	CPI bool
}

// Modified is a rewritten instruction plus the facts the caller enforces.
type Modified struct {
	Instruction      Instruction
	SourceToken      message.Address
	DestinationToken message.Address
	SourceMint       message.Address
	DestinationMint  message.Address
	// MinAmountOut is the floor the swap must clear:
	// quoted * (10000 - slippageBps) / 10000, rounded down.
	MinAmountOut uint64
}

// ModifySharedAccountsRoute re-targets a router-produced instruction at
// authority's escrow. The original transfer authority and its token accounts
// are replaced wherever they appear in the account list, and the in amount,
// quote, and slippage are overridden with the caller's values. The instruction
// is untrusted; shape violations are rejected rather than repaired.
func ModifySharedAccountsRoute(ix Instruction, authority message.Address, opts ModifyOptions) (Modified, error) {
	if len(ix.Accounts) < sharedAccountsRouteAccounts {
		return Modified{}, fmt.Errorf("%w: %d accounts, need at least %d",
			ErrAccountListShape, len(ix.Accounts), sharedAccountsRouteAccounts)
	}

	sourceMint := ix.Accounts[idxSourceMint].Key
	destinationMint := ix.Accounts[idxDestinationMint].Key
	if sourceMint == destinationMint {
		return Modified{}, message.ErrSameMint
	}

	oldAuthority := ix.Accounts[idxUserTransferAuthority].Key
	oldSourceToken := ix.Accounts[idxSourceToken].Key
	oldDestinationToken := ix.Accounts[idxDestinationAccount].Key

	sourceToken := TokenAccount(authority, sourceMint)
	destinationToken := TokenAccount(authority, destinationMint)

	accounts := make([]AccountMeta, len(ix.Accounts))
	copy(accounts, ix.Accounts)
	for i := range accounts {
		switch accounts[i].Key {
		case oldAuthority:
			accounts[i].Key = authority
			accounts[i].IsSigner = !opts.CPI
		case oldSourceToken:
			accounts[i].Key = sourceToken
		case oldDestinationToken:
			accounts[i].Key = destinationToken
		}
	}

	args, err := DecodeSharedAccountsRouteArgs(ix.Data)
	if err != nil {
		return Modified{}, err
	}
	args.InAmount = opts.InAmount
	if opts.QuotedOutAmount != nil {
		args.QuotedOutAmount = *opts.QuotedOutAmount
	} else {
		args.QuotedOutAmount = opts.InAmount
	}
	if opts.SlippageBps != nil {
		args.SlippageBps = *opts.SlippageBps
	} else {
		args.SlippageBps = 0
	}
	data, err := EncodeSharedAccountsRouteArgs(args)
	if err != nil {
		return Modified{}, err
	}

	return Modified{
		Instruction: Instruction{
			ProgramID: ix.ProgramID,
			Accounts:  accounts,
			Data:      data,
		},
		SourceToken:      sourceToken,
		DestinationToken: destinationToken,
		SourceMint:       sourceMint,
		DestinationMint:  destinationMint,
		MinAmountOut:     minAmountOut(args.QuotedOutAmount, args.SlippageBps),
	}, nil
}

func minAmountOut(quoted uint64, slippageBps uint16) uint64 {
	if slippageBps >= 10_000 {
		return 0
	}
	hi, lo := bits.Mul64(quoted, 10_000-uint64(slippageBps))
	q, _ := bits.Div64(hi, lo, 10_000)
	return q
}
