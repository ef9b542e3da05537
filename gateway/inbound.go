// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/database"
	"go.uber.org/zap"

	"github.com/luxfi/swaplayer/jupiter"
	"github.com/luxfi/swaplayer/message"
	"github.com/luxfi/swaplayer/relayer"
)

// FillKind distinguishes how quickly the bridge settled a fill. Fast fills
// settle on soft finality and carry the shorter self-priority window.
type FillKind uint8

const (
	FillFast FillKind = iota
	FillFinalized
)

// Fill is an attested inbound transfer: the stable amount the bridge has
// credited to the fill's custody account plus the encoded settlement message.
type Fill struct {
	SourceChain uint16
	OrderSender message.Address
	Sequence    uint64
	Amount      uint64
	Message     []byte
	Kind        FillKind
	// SettledAt is the unix time the fill landed locally; self-priority
	// windows count from here.
	SettledAt int64
}

// Redemption reports where redeemed funds went.
type Redemption struct {
	Recipient   message.Address
	Asset       message.Address
	Amount      uint64
	GasDropoff  uint64
	RelayingFee uint64
	// Staged is set for payload-mode redemptions: funds sit in a staged
	// inbound record for the recipient program instead of being delivered.
	Staged   bool
	StagedID [32]byte
}

// RedeemFill decodes an attested fill's settlement message and completes
// delivery according to its redeem mode. Each fill redeems exactly once.
func (g *Gateway) RedeemFill(ctx context.Context, caller message.Address, fill Fill, route *jupiter.Instruction) (Redemption, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	peer, err := g.peer(fill.SourceChain)
	if err != nil {
		return Redemption{}, err
	}
	if fill.OrderSender != peer.Address {
		return Redemption{}, ErrPeerMismatch
	}

	id := fillID(fill.SourceChain, fill.OrderSender, fill.Sequence)
	if ok, err := g.db.Has(redeemedKey(id)); err != nil {
		return Redemption{}, err
	} else if ok {
		return Redemption{}, ErrFillAlreadyRedeemed
	}

	msg, err := message.Decode(fill.Message)
	if err != nil {
		return Redemption{}, err
	}
	if msg.Recipient.IsZero() {
		return Redemption{}, ErrInvalidRecipient
	}

	var out Redemption
	switch mode := msg.RedeemMode.(type) {
	case message.RedeemDirect:
		out, err = g.redeemDirect(ctx, caller, id, fill, msg, route)
	case message.RedeemRelay:
		out, err = g.redeemRelay(ctx, caller, id, fill, msg, mode, peer, route)
	case message.RedeemPayload:
		out, err = g.redeemPayload(ctx, caller, id, fill, msg, mode, route)
	default:
		err = ErrInvalidRedeemMode
	}
	if err != nil {
		return Redemption{}, err
	}

	if err := g.db.Put(redeemedKey(id), []byte{1}); err != nil {
		return Redemption{}, err
	}
	g.log.Info("redeemed fill",
		zap.Uint16("sourceChain", fill.SourceChain),
		zap.Uint64("sequence", fill.Sequence),
		zap.Uint64("delivered", out.Amount),
	)
	return out, nil
}

// RedeemAttested observes an attested fill from the bridge and redeems it.
func (g *Gateway) RedeemAttested(ctx context.Context, caller message.Address, sequence uint64, route *jupiter.Instruction) (Redemption, error) {
	fill, err := g.bridge.ObserveAttested(ctx, sequence)
	if err != nil {
		return Redemption{}, err
	}
	return g.RedeemFill(ctx, caller, fill, route)
}

func (g *Gateway) redeemDirect(ctx context.Context, caller message.Address, id [32]byte, fill Fill, msg message.SwapMessage, route *jupiter.Instruction) (Redemption, error) {
	if caller != msg.Recipient {
		return Redemption{}, ErrInvalidRecipient
	}
	asset, proceeds, err := g.convertOutput(ctx, id, fill.Amount, msg.OutputToken, route)
	if err != nil {
		return Redemption{}, err
	}
	if err := g.deliver(ctx, id, asset, proceeds, msg.Recipient); err != nil {
		return Redemption{}, err
	}
	return Redemption{Recipient: msg.Recipient, Asset: asset, Amount: proceeds}, nil
}

func (g *Gateway) redeemRelay(ctx context.Context, caller message.Address, id [32]byte, fill Fill, msg message.SwapMessage, mode message.RedeemRelay, peer Peer, route *jupiter.Instruction) (Redemption, error) {
	self := caller == msg.Recipient

	_, needsSwap := message.RequiresSwap(msg.OutputToken)
	if needsSwap && !self {
		limit := peer.RelayParams.SwapTimeLimit.FastLimit
		if fill.Kind == FillFinalized {
			limit = peer.RelayParams.SwapTimeLimit.FinalizedLimit
		}
		if g.now().Before(time.Unix(fill.SettledAt, 0).Add(time.Duration(limit) * time.Second)) {
			return Redemption{}, ErrSwapTimeLimitNotExceeded
		}
	}

	var fee, dropoff uint64
	if !self {
		fee = mode.RelayingFee
		dropoff = relayer.DenormalizeGasDropoff(g.chainClass, mode.GasDropoff)
	}
	if fee >= fill.Amount {
		return Redemption{}, ErrInsufficientAmountOut
	}

	// Convert before paying out. A failed swap must leave the fill custody
	// untouched so the redemption can be retried.
	asset, proceeds, err := g.convertOutput(ctx, id, fill.Amount-fee, msg.OutputToken, route)
	if err != nil {
		return Redemption{}, err
	}

	custody := jupiter.TokenAccount(custodyAuthority(id), g.stable)
	if fee > 0 {
		if err := g.ledger.Transfer(ctx, g.stable, custody, g.custodian.FeeRecipient, fee); err != nil {
			return Redemption{}, err
		}
	}
	if dropoff > 0 {
		// The relayer fronts the native dropoff out of its own balance; the
		// relaying fee is its compensation.
		if err := g.ledger.TransferNative(ctx, caller, msg.Recipient, dropoff); err != nil {
			return Redemption{}, err
		}
	}
	if err := g.deliver(ctx, id, asset, proceeds, msg.Recipient); err != nil {
		return Redemption{}, err
	}
	return Redemption{
		Recipient:   msg.Recipient,
		Asset:       asset,
		Amount:      proceeds,
		GasDropoff:  dropoff,
		RelayingFee: fee,
	}, nil
}

func (g *Gateway) redeemPayload(ctx context.Context, caller message.Address, id [32]byte, fill Fill, msg message.SwapMessage, mode message.RedeemPayload, route *jupiter.Instruction) (Redemption, error) {
	asset, proceeds, err := g.convertOutput(ctx, id, fill.Amount, msg.OutputToken, route)
	if err != nil {
		return Redemption{}, err
	}

	_, isNative := msg.OutputToken.(message.OutputGas)
	record := StagedInbound{
		StagedBy:    caller,
		SourceChain: fill.SourceChain,
		Sender:      mode.Sender,
		Recipient:   msg.Recipient,
		IsNative:    isNative,
		Asset:       asset,
		Amount:      proceeds,
		Payload:     mode.Buf,
	}
	if err := g.db.Put(inboundKey(id), encodeStagedInbound(record)); err != nil {
		return Redemption{}, err
	}

	return Redemption{
		Recipient: msg.Recipient,
		Asset:     asset,
		Amount:    proceeds,
		Staged:    true,
		StagedID:  id,
	}, nil
}

// convertOutput leaves the requested output asset in the fill's custody
// accounts and reports what is there. No swap for the stable output; swap
// outputs are routed through the rewritten instruction under the message's
// limit and deadline.
func (g *Gateway) convertOutput(ctx context.Context, id [32]byte, amount uint64, out message.OutputToken, route *jupiter.Instruction) (message.Address, uint64, error) {
	var target message.Address
	var swap message.SwapSpec
	switch o := out.(type) {
	case message.OutputUsdc:
		return g.stable, amount, nil
	case message.OutputGas:
		target, swap = g.wrappedNative, o.Swap
	case message.OutputOther:
		target, swap = o.Address, o.Swap
	default:
		return message.Address{}, 0, message.ErrMalformedMessage
	}

	if route == nil {
		return message.Address{}, 0, ErrRouteRequired
	}
	if amount == 0 {
		return message.Address{}, 0, ErrInvalidSwapInAmount
	}
	if swap.Deadline != 0 && g.now().Unix() > int64(swap.Deadline) {
		return message.Address{}, 0, ErrSwapPastDeadline
	}

	authority := custodyAuthority(id)
	modified, err := jupiter.ModifySharedAccountsRoute(*route, authority, jupiter.ModifyOptions{
		InAmount:        amount,
		QuotedOutAmount: &swap.LimitAmount,
		CPI:             true,
	})
	if err != nil {
		return message.Address{}, 0, err
	}
	if modified.SourceMint != g.stable {
		return message.Address{}, 0, ErrInvalidSourceMint
	}
	if modified.DestinationMint != target {
		return message.Address{}, 0, ErrInvalidDestinationMint
	}

	before, err := g.ledger.Balance(ctx, target, modified.DestinationToken)
	if err != nil {
		return message.Address{}, 0, err
	}
	if err := g.router.Execute(ctx, modified.Instruction); err != nil {
		return message.Address{}, 0, err
	}
	after, err := g.ledger.Balance(ctx, target, modified.DestinationToken)
	if err != nil {
		return message.Address{}, 0, err
	}
	if after < before {
		return message.Address{}, 0, ErrInsufficientAmountOut
	}
	proceeds := after - before
	if proceeds < swap.LimitAmount || proceeds < modified.MinAmountOut {
		return message.Address{}, 0, ErrInsufficientAmountOut
	}
	return target, proceeds, nil
}

// deliver moves the output asset from the fill custody account to the
// recipient's canonical token account.
func (g *Gateway) deliver(ctx context.Context, id [32]byte, asset message.Address, amount uint64, recipient message.Address) error {
	custody := jupiter.TokenAccount(custodyAuthority(id), asset)
	return g.ledger.Transfer(ctx, asset, custody, jupiter.TokenAccount(recipient, asset), amount)
}

// ReleaseInbound lets the recipient program claim staged payload custody.
// The destination defaults to the recipient's canonical token account.
func (g *Gateway) ReleaseInbound(ctx context.Context, caller message.Address, id [32]byte, to message.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := g.loadInbound(id)
	if err != nil {
		return err
	}
	if caller != record.Recipient {
		return ErrInvalidRecipient
	}
	if to.IsZero() {
		to = jupiter.TokenAccount(record.Recipient, record.Asset)
	}

	custody := jupiter.TokenAccount(custodyAuthority(id), record.Asset)
	if err := g.ledger.Transfer(ctx, record.Asset, custody, to, record.Amount); err != nil {
		return err
	}
	if err := g.db.Delete(inboundKey(id)); err != nil {
		return err
	}

	g.log.Info("released staged inbound", zap.Binary("id", id[:]), zap.Uint64("amount", record.Amount))
	return nil
}

// Inbound returns the staged payload record for id.
func (g *Gateway) Inbound(id [32]byte) (StagedInbound, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadInbound(id)
}

func (g *Gateway) loadInbound(id [32]byte) (StagedInbound, error) {
	raw, err := g.db.Get(inboundKey(id))
	if errors.Is(err, database.ErrNotFound) {
		return StagedInbound{}, ErrStagedNotFound
	}
	if err != nil {
		return StagedInbound{}, err
	}
	return decodeStagedInbound(raw)
}
