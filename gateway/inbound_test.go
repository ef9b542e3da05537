// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/swaplayer/jupiter"
	"github.com/luxfi/swaplayer/message"
)

// makeFill fabricates an attested fill and credits its custody account the
// way the bridge would before redemption.
func (e *testEnv) makeFill(t *testing.T, sequence, amount uint64, msg message.SwapMessage, kind FillKind, settledAt time.Time) Fill {
	t.Helper()
	payload, err := message.Encode(msg)
	require.NoError(t, err)

	id := fillID(testChain, peerAddr, sequence)
	custody := jupiter.TokenAccount(custodyAuthority(id), stable)
	e.ledger.mint(stable, custody, amount)

	return Fill{
		SourceChain: testChain,
		OrderSender: peerAddr,
		Sequence:    sequence,
		Amount:      amount,
		Message:     payload,
		Kind:        kind,
		SettledAt:   settledAt.Unix(),
	}
}

func directUsdcMessage() message.SwapMessage {
	return message.SwapMessage{
		Recipient:   recipient,
		RedeemMode:  message.RedeemDirect{},
		OutputToken: message.OutputUsdc{},
	}
}

func TestRedeemFillDirect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fill := env.makeFill(t, 1, 20_000_000_000, directUsdcMessage(), FillFinalized, time.Now())

	// Direct redemption belongs to the recipient alone.
	_, err := env.gw.RedeemFill(ctx, relayerAddr, fill, nil)
	require.ErrorIs(t, err, ErrInvalidRecipient)

	red, err := env.gw.RedeemFill(ctx, recipient, fill, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(20_000_000_000), red.Amount)
	require.Equal(t, stable, red.Asset)
	require.Equal(t, uint64(0), red.RelayingFee)

	dest := jupiter.TokenAccount(recipient, stable)
	require.Equal(t, uint64(20_000_000_000), env.ledger.balance(stable, dest))

	_, err = env.gw.RedeemFill(ctx, recipient, fill, nil)
	require.ErrorIs(t, err, ErrFillAlreadyRedeemed)
}

func TestRedeemFillChecksPeer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fill := env.makeFill(t, 1, 100, directUsdcMessage(), FillFinalized, time.Now())

	unknown := fill
	unknown.SourceChain = 99
	_, err := env.gw.RedeemFill(ctx, recipient, unknown, nil)
	require.ErrorIs(t, err, ErrChainNotAllowed)

	impostor := fill
	impostor.OrderSender = addr(0x99)
	_, err = env.gw.RedeemFill(ctx, recipient, impostor, nil)
	require.ErrorIs(t, err, ErrPeerMismatch)

	garbled := fill
	garbled.Message = []byte{0xff}
	_, err = env.gw.RedeemFill(ctx, recipient, garbled, nil)
	require.ErrorIs(t, err, message.ErrMalformedMessage)
}

func TestRedeemFillRelay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.mintNative(relayerAddr, 5_000_000_000)

	msg := directUsdcMessage()
	// On this chain class a 1_000_000 on-wire dropoff is 1_000_000_000
	// native units.
	msg.RedeemMode = message.RedeemRelay{GasDropoff: 1_000_000, RelayingFee: 16_775_000}
	fill := env.makeFill(t, 1, 20_000_000_000, msg, FillFinalized, time.Now())

	red, err := env.gw.RedeemFill(ctx, relayerAddr, fill, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000), red.GasDropoff)
	require.Equal(t, uint64(16_775_000), red.RelayingFee)
	require.Equal(t, uint64(20_000_000_000-16_775_000), red.Amount)

	require.Equal(t, uint64(1_000_000_000), env.ledger.native[recipient])
	require.Equal(t, uint64(5_000_000_000-1_000_000_000), env.ledger.native[relayerAddr])
	require.Equal(t, uint64(16_775_000), env.ledger.balance(stable, feeRecipient))
	dest := jupiter.TokenAccount(recipient, stable)
	require.Equal(t, uint64(20_000_000_000-16_775_000), env.ledger.balance(stable, dest))
}

func TestRedeemFillRelaySelfWaivesFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := directUsdcMessage()
	msg.RedeemMode = message.RedeemRelay{GasDropoff: 1_000_000, RelayingFee: 16_775_000}
	fill := env.makeFill(t, 1, 20_000_000_000, msg, FillFinalized, time.Now())

	red, err := env.gw.RedeemFill(ctx, recipient, fill, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), red.GasDropoff)
	require.Equal(t, uint64(0), red.RelayingFee)
	require.Equal(t, uint64(20_000_000_000), red.Amount)
	require.Equal(t, uint64(0), env.ledger.balance(stable, feeRecipient))
}

func gasOutputMessage(deadline uint32, limit uint64) message.SwapMessage {
	return message.SwapMessage{
		Recipient:  recipient,
		RedeemMode: message.RedeemDirect{},
		OutputToken: message.OutputGas{Swap: message.SwapSpec{
			Deadline:    deadline,
			LimitAmount: limit,
			Router:      message.RouterJupiterV6{},
		}},
	}
}

func TestRedeemFillWithSwap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fill := env.makeFill(t, 1, 100_000_000, gasOutputMessage(0, 95_000_000), FillFinalized, time.Now())

	route := makeRoute(t, stable, wrappedSol)
	env.swapRouter(t, stable, wrappedSol, 97_000_000)

	red, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
	require.NoError(t, err)
	require.Equal(t, wrappedSol, red.Asset)
	require.Equal(t, uint64(97_000_000), red.Amount)

	dest := jupiter.TokenAccount(recipient, wrappedSol)
	require.Equal(t, uint64(97_000_000), env.ledger.balance(wrappedSol, dest))
}

func TestRedeemFillSwapChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	env.gw.now = func() time.Time { return now }

	t.Run("route required", func(t *testing.T) {
		fill := env.makeFill(t, 10, 100, gasOutputMessage(0, 1), FillFinalized, now)
		_, err := env.gw.RedeemFill(ctx, recipient, fill, nil)
		require.ErrorIs(t, err, ErrRouteRequired)
	})

	t.Run("past deadline", func(t *testing.T) {
		deadline := uint32(now.Add(-time.Hour).Unix())
		fill := env.makeFill(t, 11, 100, gasOutputMessage(deadline, 1), FillFinalized, now)
		route := makeRoute(t, stable, wrappedSol)
		_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
		require.ErrorIs(t, err, ErrSwapPastDeadline)
	})

	t.Run("wrong destination mint", func(t *testing.T) {
		fill := env.makeFill(t, 12, 100, gasOutputMessage(0, 1), FillFinalized, now)
		route := makeRoute(t, stable, addr(0x67))
		_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
		require.ErrorIs(t, err, ErrInvalidDestinationMint)
	})

	t.Run("wrong source mint", func(t *testing.T) {
		fill := env.makeFill(t, 13, 100, gasOutputMessage(0, 1), FillFinalized, now)
		route := makeRoute(t, addr(0x67), wrappedSol)
		_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
		require.ErrorIs(t, err, ErrInvalidSourceMint)
	})

	t.Run("zero swap amount", func(t *testing.T) {
		fill := env.makeFill(t, 15, 0, gasOutputMessage(0, 1), FillFinalized, now)
		route := makeRoute(t, stable, wrappedSol)
		_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
		require.ErrorIs(t, err, ErrInvalidSwapInAmount)
	})

	t.Run("proceeds below limit", func(t *testing.T) {
		fill := env.makeFill(t, 14, 100_000_000, gasOutputMessage(0, 95_000_000), FillFinalized, now)
		route := makeRoute(t, stable, wrappedSol)
		env.swapRouter(t, stable, wrappedSol, 90_000_000)
		_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
		require.ErrorIs(t, err, ErrInsufficientAmountOut)
	})
}

func otherOutputMessage(t *testing.T, target message.Address, limit uint64) message.SwapMessage {
	t.Helper()
	out, err := message.NewOutputOther(target, stable, message.SwapSpec{
		LimitAmount: limit,
		Router:      message.RouterJupiterV6{},
	})
	require.NoError(t, err)
	return message.SwapMessage{
		Recipient:   recipient,
		RedeemMode:  message.RedeemDirect{},
		OutputToken: out,
	}
}

func TestRedeemFillOtherOutput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := addr(0x55)
	fill := env.makeFill(t, 1, 100_000_000, otherOutputMessage(t, other, 95_000_000), FillFinalized, time.Now())

	route := makeRoute(t, stable, other)
	env.swapRouter(t, stable, other, 96_000_000)

	red, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
	require.NoError(t, err)
	require.Equal(t, other, red.Asset)
	require.Equal(t, uint64(96_000_000), red.Amount)

	dest := jupiter.TokenAccount(recipient, other)
	require.Equal(t, uint64(96_000_000), env.ledger.balance(other, dest))
}

func TestRedeemFillOtherRejectsStableTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A remote sender can still encode the stable asset as an "other" output;
	// the degenerate swap is refused here.
	msg := message.SwapMessage{
		Recipient:  recipient,
		RedeemMode: message.RedeemDirect{},
		OutputToken: message.OutputOther{Address: stable, Swap: message.SwapSpec{
			LimitAmount: 1,
			Router:      message.RouterJupiterV6{},
		}},
	}
	fill := env.makeFill(t, 1, 100, msg, FillFinalized, time.Now())

	route := makeRoute(t, stable, stable)
	_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
	require.ErrorIs(t, err, message.ErrSameMint)
}

func TestRedeemFillRelayFailedSwapPaysNobody(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.mintNative(relayerAddr, 5_000_000_000)
	settled := time.Unix(1_700_000_000, 0)
	env.gw.now = func() time.Time { return settled.Add(time.Minute) }

	msg := gasOutputMessage(0, 95_000_000)
	msg.RedeemMode = message.RedeemRelay{GasDropoff: 1_000_000, RelayingFee: 16_775_000}
	fill := env.makeFill(t, 1, 120_000_000, msg, FillFinalized, settled)
	custody := jupiter.TokenAccount(custodyAuthority(fillID(testChain, peerAddr, 1)), stable)

	// The router produces nothing, so the swap misses its limit.
	route := makeRoute(t, stable, wrappedSol)
	env.router.run = func(ix jupiter.Instruction) error { return nil }

	_, err := env.gw.RedeemFill(ctx, relayerAddr, fill, &route)
	require.ErrorIs(t, err, ErrInsufficientAmountOut)

	// A failed redemption pays nobody and consumes nothing.
	require.Equal(t, uint64(0), env.ledger.balance(stable, feeRecipient))
	require.Equal(t, uint64(5_000_000_000), env.ledger.native[relayerAddr])
	require.Equal(t, uint64(0), env.ledger.native[recipient])
	require.Equal(t, uint64(120_000_000), env.ledger.balance(stable, custody))

	// The fill is still open; a working route redeems it.
	env.swapRouter(t, stable, wrappedSol, 97_000_000)
	red, err := env.gw.RedeemFill(ctx, relayerAddr, fill, &route)
	require.NoError(t, err)
	require.Equal(t, uint64(16_775_000), red.RelayingFee)
	require.Equal(t, uint64(16_775_000), env.ledger.balance(stable, feeRecipient))
	require.Equal(t, uint64(1_000_000_000), env.ledger.native[recipient])
}

func TestRedeemFillRejectsDrainedDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fill := env.makeFill(t, 1, 100_000_000, gasOutputMessage(0, 1), FillFinalized, time.Now())

	dest := jupiter.TokenAccount(custodyAuthority(fillID(testChain, peerAddr, 1)), wrappedSol)
	env.ledger.mint(wrappedSol, dest, 5)

	// A hostile route that leaves the destination poorer than it started.
	route := makeRoute(t, stable, wrappedSol)
	env.router.run = func(ix jupiter.Instruction) error {
		return env.ledger.Transfer(context.Background(), wrappedSol, ix.Accounts[6].Key, addr(0xee), 5)
	}

	_, err := env.gw.RedeemFill(ctx, recipient, fill, &route)
	require.ErrorIs(t, err, ErrInsufficientAmountOut)
}

func TestRedeemFillRelaySwapTimeLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	settled := time.Unix(1_700_000_000, 0)

	msg := gasOutputMessage(0, 95_000_000)
	msg.RedeemMode = message.RedeemRelay{GasDropoff: 0, RelayingFee: 16_775_000}
	fill := env.makeFill(t, 1, 120_000_000, msg, FillFinalized, settled)

	route := makeRoute(t, stable, wrappedSol)
	env.swapRouter(t, stable, wrappedSol, 97_000_000)

	// Inside the finalized window only the recipient may redeem a swap.
	env.gw.now = func() time.Time { return settled.Add(20 * time.Second) }
	_, err := env.gw.RedeemFill(ctx, relayerAddr, fill, &route)
	require.ErrorIs(t, err, ErrSwapTimeLimitNotExceeded)

	// Once the window elapses any relayer may.
	env.gw.now = func() time.Time { return settled.Add(31 * time.Second) }
	red, err := env.gw.RedeemFill(ctx, relayerAddr, fill, &route)
	require.NoError(t, err)
	require.Equal(t, uint64(16_775_000), red.RelayingFee)
	require.Equal(t, uint64(97_000_000), red.Amount)
}

func TestRedeemFillRelayFastWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	settled := time.Unix(1_700_000_000, 0)

	msg := gasOutputMessage(0, 1)
	msg.RedeemMode = message.RedeemRelay{GasDropoff: 0, RelayingFee: 16_775_000}
	fill := env.makeFill(t, 1, 120_000_000, msg, FillFast, settled)

	route := makeRoute(t, stable, wrappedSol)
	env.swapRouter(t, stable, wrappedSol, 97_000_000)

	// Fast fills open up after the shorter window.
	env.gw.now = func() time.Time { return settled.Add(11 * time.Second) }
	_, err := env.gw.RedeemFill(ctx, relayerAddr, fill, &route)
	require.NoError(t, err)
}

func TestRedeemFillPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := directUsdcMessage()
	msg.RedeemMode = message.RedeemPayload{Sender: sender, Buf: []byte("orders")}
	fill := env.makeFill(t, 1, 7_000_000, msg, FillFinalized, time.Now())

	red, err := env.gw.RedeemFill(ctx, relayerAddr, fill, nil)
	require.NoError(t, err)
	require.True(t, red.Staged)
	require.Equal(t, uint64(7_000_000), red.Amount)

	record, err := env.gw.Inbound(red.StagedID)
	require.NoError(t, err)
	require.Equal(t, relayerAddr, record.StagedBy)
	require.Equal(t, sender, record.Sender)
	require.Equal(t, recipient, record.Recipient)
	require.Equal(t, []byte("orders"), record.Payload)
	require.Equal(t, uint64(7_000_000), record.Amount)
	require.False(t, record.IsNative)

	// Custody stays with the staging record until the program claims it.
	custody := jupiter.TokenAccount(custodyAuthority(red.StagedID), stable)
	require.Equal(t, uint64(7_000_000), env.ledger.balance(stable, custody))

	require.ErrorIs(t, env.gw.ReleaseInbound(ctx, relayerAddr, red.StagedID, message.Address{}), ErrInvalidRecipient)

	require.NoError(t, env.gw.ReleaseInbound(ctx, recipient, red.StagedID, message.Address{}))
	dest := jupiter.TokenAccount(recipient, stable)
	require.Equal(t, uint64(7_000_000), env.ledger.balance(stable, dest))
	_, err = env.gw.Inbound(red.StagedID)
	require.ErrorIs(t, err, ErrStagedNotFound)
}

func TestRedeemAttested(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fill := env.makeFill(t, 4, 1_000_000, directUsdcMessage(), FillFinalized, time.Now())
	env.bridge.attested[4] = fill

	red, err := env.gw.RedeemAttested(ctx, recipient, 4, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), red.Amount)

	_, err = env.gw.RedeemAttested(ctx, recipient, 5, nil)
	require.Error(t, err)
}
