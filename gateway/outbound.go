// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/luxfi/database"
	"go.uber.org/zap"

	"github.com/luxfi/swaplayer/jupiter"
	"github.com/luxfi/swaplayer/message"
	"github.com/luxfi/swaplayer/relayer"
)

// StageParams describes an outbound transfer to be escrowed.
type StageParams struct {
	// Sender funds the escrow. Zero means the caller funds it.
	Sender      message.Address
	TargetChain uint16
	SourceAsset message.Address
	AmountIn    uint64
	// IsExactIn fixes the escrowed amount to AmountIn; the relaying fee, if
	// any, comes out of what the recipient receives. Exact-out escrows
	// AmountIn plus the fee so the recipient nets the full amount.
	IsExactIn bool
	// RefundToken receives the escrow on close. Zero means the sender.
	RefundToken message.Address
	// MinAmountOut bounds the outbound swap into the stable asset. Required
	// whenever SourceAsset is not the stable asset.
	MinAmountOut *uint64

	Recipient   message.Address
	RedeemMode  message.RedeemMode
	OutputToken message.OutputToken
}

// StageOutbound escrows the source asset and records the transfer intent.
// For relayed transfers the fee is priced here against the target peer's
// relay parameters and written into the settlement message; the sender's
// RelayingFee field acts as the maximum they will accept.
func (g *Gateway) StageOutbound(ctx context.Context, caller message.Address, p StageParams) ([32]byte, error) {
	if p.AmountIn == 0 {
		return [32]byte{}, ErrZeroAmountIn
	}
	if p.Recipient.IsZero() {
		return [32]byte{}, ErrInvalidRecipient
	}

	sender := p.Sender
	if sender.IsZero() {
		sender = caller
	}
	refundToken := p.RefundToken
	if refundToken.IsZero() {
		refundToken = sender
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	peer, err := g.peer(p.TargetChain)
	if err != nil {
		return [32]byte{}, err
	}

	var minAmountOut uint64
	if p.SourceAsset != g.stable {
		if p.MinAmountOut == nil {
			return [32]byte{}, ErrMinAmountOutRequired
		}
		if *p.MinAmountOut == 0 {
			return [32]byte{}, ErrInvalidLimitAmount
		}
		minAmountOut = *p.MinAmountOut
	}

	mode := p.RedeemMode
	escrowAmount := p.AmountIn
	if relay, ok := mode.(message.RedeemRelay); ok {
		fee, err := relayer.CalculateRelayerFee(peer.RelayParams, relay.GasDropoff, p.OutputToken)
		if err != nil {
			return [32]byte{}, err
		}
		if fee > relay.RelayingFee {
			return [32]byte{}, ErrExceedsMaxRelayingFee
		}
		mode = message.RedeemRelay{GasDropoff: relay.GasDropoff, RelayingFee: fee}
		if !p.IsExactIn {
			sum, carry := bits.Add64(p.AmountIn, fee, 0)
			if carry != 0 {
				return [32]byte{}, relayer.ErrRelayerFeeOverflow
			}
			escrowAmount = sum
		}
	}

	g.outboundSeq++
	seq := g.outboundSeq
	id := outboundID(sender, p.TargetChain, seq)

	record := StagedOutbound{
		PreparedBy:     caller,
		Sender:         sender,
		TargetChain:    p.TargetChain,
		SourceAsset:    p.SourceAsset,
		CustodyBalance: escrowAmount,
		IsExactIn:      p.IsExactIn,
		RefundToken:    refundToken,
		MinAmountOut:   minAmountOut,
		Message: message.SwapMessage{
			Recipient:   p.Recipient,
			RedeemMode:  mode,
			OutputToken: p.OutputToken,
		},
	}
	raw, err := encodeStagedOutbound(record)
	if err != nil {
		return [32]byte{}, err
	}

	// Record first, then move funds. A store failure before the escrow debit
	// leaves the sender whole; a transfer failure rolls the record back.
	if err := g.db.Put(outboundKey(id), raw); err != nil {
		return [32]byte{}, err
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	if err := g.db.Put(outboundSeqKey, seqBytes[:]); err != nil {
		return [32]byte{}, err
	}

	custody := jupiter.TokenAccount(custodyAuthority(id), p.SourceAsset)
	if err := g.ledger.Transfer(ctx, p.SourceAsset, sender, custody, escrowAmount); err != nil {
		if derr := g.db.Delete(outboundKey(id)); derr != nil {
			g.log.Warn("orphaned staging record", zap.Binary("id", id[:]), zap.Error(derr))
		}
		return [32]byte{}, err
	}

	g.log.Info("staged outbound",
		zap.Binary("id", id[:]),
		zap.Uint16("targetChain", p.TargetChain),
		zap.Uint64("escrowed", escrowAmount),
	)
	return id, nil
}

// InitiateSwap converts a non-stable escrow into the stable asset through a
// caller-supplied route instruction. The instruction is rewritten to spend
// the staging escrow and its proceeds are measured on the ledger, never taken
// from the router's word.
func (g *Gateway) InitiateSwap(ctx context.Context, caller message.Address, id [32]byte, route jupiter.Instruction) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := g.loadOutbound(id)
	if err != nil {
		return err
	}
	if caller != record.Sender && caller != record.PreparedBy {
		return ErrNotSenderOrPreparer
	}
	if record.Swapped {
		return ErrOutboundSwapped
	}
	if record.SourceAsset == g.stable {
		return message.ErrSameMint
	}

	authority := custodyAuthority(id)
	modified, err := jupiter.ModifySharedAccountsRoute(route, authority, jupiter.ModifyOptions{
		InAmount:        record.CustodyBalance,
		QuotedOutAmount: &record.MinAmountOut,
		CPI:             true,
	})
	if err != nil {
		return err
	}
	if modified.SourceMint != record.SourceAsset {
		return ErrInvalidSourceMint
	}
	if modified.DestinationMint != g.stable {
		return ErrInvalidDestinationMint
	}

	before, err := g.ledger.Balance(ctx, g.stable, modified.DestinationToken)
	if err != nil {
		return err
	}
	if err := g.router.Execute(ctx, modified.Instruction); err != nil {
		return err
	}
	after, err := g.ledger.Balance(ctx, g.stable, modified.DestinationToken)
	if err != nil {
		return err
	}
	if after < before {
		return ErrInsufficientAmountOut
	}
	proceeds := after - before
	if proceeds < modified.MinAmountOut {
		return ErrInsufficientAmountOut
	}

	record.SourceAsset = g.stable
	record.CustodyBalance = proceeds
	record.Swapped = true
	raw, err := encodeStagedOutbound(record)
	if err != nil {
		return err
	}
	if err := g.db.Put(outboundKey(id), raw); err != nil {
		return err
	}

	g.log.Info("swapped outbound escrow",
		zap.Binary("id", id[:]),
		zap.Uint64("proceeds", proceeds),
	)
	return nil
}

// InitiateTransfer hands the stable escrow and the encoded settlement message
// to the bridge and deletes the staging record. Returns the bridge sequence.
func (g *Gateway) InitiateTransfer(ctx context.Context, caller message.Address, id [32]byte) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := g.loadOutbound(id)
	if err != nil {
		return 0, err
	}
	if caller != record.Sender && caller != record.PreparedBy {
		return 0, ErrNotSenderOrPreparer
	}
	if record.SourceAsset != g.stable {
		return 0, ErrSwapRequired
	}

	payload, err := message.Encode(record.Message)
	if err != nil {
		return 0, err
	}

	custody := jupiter.TokenAccount(custodyAuthority(id), g.stable)
	if err := g.ledger.Transfer(ctx, g.stable, custody, g.bridgeCustody, record.CustodyBalance); err != nil {
		return 0, err
	}
	seq, err := g.bridge.Submit(ctx, record.TargetChain, record.CustodyBalance, payload)
	if err != nil {
		return 0, err
	}
	if err := g.db.Delete(outboundKey(id)); err != nil {
		return 0, err
	}

	g.log.Info("handed transfer to bridge",
		zap.Binary("id", id[:]),
		zap.Uint16("targetChain", record.TargetChain),
		zap.Uint64("amount", record.CustodyBalance),
		zap.Uint64("sequence", seq),
	)
	return seq, nil
}

// CloseStagedOutbound refunds a not-yet-swapped escrow and deletes the
// record. Only the sender or the preparer may close.
func (g *Gateway) CloseStagedOutbound(ctx context.Context, caller message.Address, id [32]byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := g.loadOutbound(id)
	if err != nil {
		return err
	}
	if caller != record.Sender && caller != record.PreparedBy {
		return ErrNotSenderOrPreparer
	}
	if record.Swapped {
		return ErrOutboundSwapped
	}

	custody := jupiter.TokenAccount(custodyAuthority(id), record.SourceAsset)
	if err := g.ledger.Transfer(ctx, record.SourceAsset, custody, record.RefundToken, record.CustodyBalance); err != nil {
		return err
	}
	if err := g.db.Delete(outboundKey(id)); err != nil {
		return err
	}

	g.log.Info("closed staged outbound", zap.Binary("id", id[:]), zap.Uint64("refunded", record.CustodyBalance))
	return nil
}

// Outbound returns the live staging record for id.
func (g *Gateway) Outbound(id [32]byte) (StagedOutbound, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadOutbound(id)
}

func (g *Gateway) loadOutbound(id [32]byte) (StagedOutbound, error) {
	raw, err := g.db.Get(outboundKey(id))
	if errors.Is(err, database.ErrNotFound) {
		return StagedOutbound{}, ErrStagedNotFound
	}
	if err != nil {
		return StagedOutbound{}, err
	}
	return decodeStagedOutbound(raw)
}
