// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/luxfi/swaplayer/message"
	"github.com/luxfi/swaplayer/relayer"
)

// Peer is the registered counterpart endpoint on a remote chain, together
// with the relay pricing for transfers toward that chain.
type Peer struct {
	Chain       uint16
	Address     message.Address
	RelayParams relayer.RelayParams
}

// StagedOutbound is the escrow record bracketing the pre-bridge phase of a
// transfer. It is created when the sender commits funds and destroyed when
// the transfer is handed to the bridge or closed for a refund.
type StagedOutbound struct {
	PreparedBy     message.Address
	Sender         message.Address
	TargetChain    uint16
	SourceAsset    message.Address
	CustodyBalance uint64
	IsExactIn      bool
	Swapped        bool
	RefundToken    message.Address
	MinAmountOut   uint64
	Message        message.SwapMessage
}

// StagedInbound holds custody of redeemed fill proceeds for a programmatic
// recipient, created only for payload-mode redemptions.
type StagedInbound struct {
	StagedBy    message.Address
	SourceChain uint16
	Sender      message.Address
	Recipient   message.Address
	IsNative    bool
	Asset       message.Address
	Amount      uint64
	Payload     []byte
}

const (
	flagExactIn = 1 << 0
	flagSwapped = 1 << 1
	flagNative  = 1 << 0
)

func encodeStagedOutbound(s StagedOutbound) ([]byte, error) {
	msg, err := message.Encode(s.Message)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 32+32+2+32+8+1+32+8+4+len(msg))
	buf = append(buf, s.PreparedBy[:]...)
	buf = append(buf, s.Sender[:]...)
	buf = binary.BigEndian.AppendUint16(buf, s.TargetChain)
	buf = append(buf, s.SourceAsset[:]...)
	buf = binary.BigEndian.AppendUint64(buf, s.CustodyBalance)
	var flags byte
	if s.IsExactIn {
		flags |= flagExactIn
	}
	if s.Swapped {
		flags |= flagSwapped
	}
	buf = append(buf, flags)
	buf = append(buf, s.RefundToken[:]...)
	buf = binary.BigEndian.AppendUint64(buf, s.MinAmountOut)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	buf = append(buf, msg...)
	return buf, nil
}

func decodeStagedOutbound(data []byte) (StagedOutbound, error) {
	const fixed = 32 + 32 + 2 + 32 + 8 + 1 + 32 + 8 + 4
	if len(data) < fixed {
		return StagedOutbound{}, fmt.Errorf("staged outbound record truncated: %d bytes", len(data))
	}
	var s StagedOutbound
	copy(s.PreparedBy[:], data[0:32])
	copy(s.Sender[:], data[32:64])
	s.TargetChain = binary.BigEndian.Uint16(data[64:66])
	copy(s.SourceAsset[:], data[66:98])
	s.CustodyBalance = binary.BigEndian.Uint64(data[98:106])
	flags := data[106]
	s.IsExactIn = flags&flagExactIn != 0
	s.Swapped = flags&flagSwapped != 0
	copy(s.RefundToken[:], data[107:139])
	s.MinAmountOut = binary.BigEndian.Uint64(data[139:147])
	msgLen := binary.BigEndian.Uint32(data[147:151])
	if uint32(len(data)-fixed) != msgLen {
		return StagedOutbound{}, fmt.Errorf("staged outbound record: message length %d, have %d bytes", msgLen, len(data)-fixed)
	}
	msg, err := message.Decode(data[fixed:])
	if err != nil {
		return StagedOutbound{}, err
	}
	s.Message = msg
	return s, nil
}

func encodeStagedInbound(s StagedInbound) []byte {
	buf := make([]byte, 0, 32+2+32+32+1+32+8+4+len(s.Payload))
	buf = append(buf, s.StagedBy[:]...)
	buf = binary.BigEndian.AppendUint16(buf, s.SourceChain)
	buf = append(buf, s.Sender[:]...)
	buf = append(buf, s.Recipient[:]...)
	var flags byte
	if s.IsNative {
		flags |= flagNative
	}
	buf = append(buf, flags)
	buf = append(buf, s.Asset[:]...)
	buf = binary.BigEndian.AppendUint64(buf, s.Amount)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Payload)))
	buf = append(buf, s.Payload...)
	return buf
}

func decodeStagedInbound(data []byte) (StagedInbound, error) {
	const fixed = 32 + 2 + 32 + 32 + 1 + 32 + 8 + 4
	if len(data) < fixed {
		return StagedInbound{}, fmt.Errorf("staged inbound record truncated: %d bytes", len(data))
	}
	var s StagedInbound
	copy(s.StagedBy[:], data[0:32])
	s.SourceChain = binary.BigEndian.Uint16(data[32:34])
	copy(s.Sender[:], data[34:66])
	copy(s.Recipient[:], data[66:98])
	s.IsNative = data[98]&flagNative != 0
	copy(s.Asset[:], data[99:131])
	s.Amount = binary.BigEndian.Uint64(data[131:139])
	payloadLen := binary.BigEndian.Uint32(data[139:143])
	if uint32(len(data)-fixed) != payloadLen {
		return StagedInbound{}, fmt.Errorf("staged inbound record: payload length %d, have %d bytes", payloadLen, len(data)-fixed)
	}
	if payloadLen > 0 {
		s.Payload = append([]byte(nil), data[fixed:]...)
	}
	return s, nil
}

const (
	execTagNone = 0
	execTagEvm  = 1
)

func encodePeer(p Peer) []byte {
	buf := make([]byte, 0, 2+32+4+8+4+4+1+8+4)
	buf = binary.BigEndian.AppendUint16(buf, p.Chain)
	buf = append(buf, p.Address[:]...)
	rp := p.RelayParams
	buf = binary.BigEndian.AppendUint32(buf, rp.BaseFee)
	buf = binary.BigEndian.AppendUint64(buf, rp.NativeTokenPrice)
	buf = binary.BigEndian.AppendUint32(buf, rp.MaxGasDropoff)
	buf = binary.BigEndian.AppendUint32(buf, rp.GasDropoffMargin)
	switch exec := rp.ExecutionParams.(type) {
	case relayer.ExecutionEvm:
		buf = append(buf, execTagEvm)
		buf = binary.BigEndian.AppendUint32(buf, exec.GasPrice)
		buf = binary.BigEndian.AppendUint32(buf, exec.GasPriceMargin)
	default:
		buf = append(buf, execTagNone)
	}
	buf = binary.BigEndian.AppendUint16(buf, rp.SwapTimeLimit.FastLimit)
	buf = binary.BigEndian.AppendUint16(buf, rp.SwapTimeLimit.FinalizedLimit)
	return buf
}

func decodePeer(data []byte) (Peer, error) {
	const fixed = 2 + 32 + 4 + 8 + 4 + 4 + 1
	if len(data) < fixed+4 {
		return Peer{}, fmt.Errorf("peer record truncated: %d bytes", len(data))
	}
	var p Peer
	p.Chain = binary.BigEndian.Uint16(data[0:2])
	copy(p.Address[:], data[2:34])
	p.RelayParams.BaseFee = binary.BigEndian.Uint32(data[34:38])
	p.RelayParams.NativeTokenPrice = binary.BigEndian.Uint64(data[38:46])
	p.RelayParams.MaxGasDropoff = binary.BigEndian.Uint32(data[46:50])
	p.RelayParams.GasDropoffMargin = binary.BigEndian.Uint32(data[50:54])
	rest := data[fixed:]
	switch data[54] {
	case execTagEvm:
		if len(rest) != 8+4 {
			return Peer{}, fmt.Errorf("peer record: evm execution params truncated")
		}
		p.RelayParams.ExecutionParams = relayer.ExecutionEvm{
			GasPrice:       binary.BigEndian.Uint32(rest[0:4]),
			GasPriceMargin: binary.BigEndian.Uint32(rest[4:8]),
		}
		rest = rest[8:]
	case execTagNone:
		if len(rest) != 4 {
			return Peer{}, fmt.Errorf("peer record: trailing bytes")
		}
		p.RelayParams.ExecutionParams = relayer.ExecutionNone{}
	default:
		return Peer{}, fmt.Errorf("peer record: unknown execution params tag %d", data[54])
	}
	p.RelayParams.SwapTimeLimit.FastLimit = binary.BigEndian.Uint16(rest[0:2])
	p.RelayParams.SwapTimeLimit.FinalizedLimit = binary.BigEndian.Uint16(rest[2:4])
	return p, nil
}

// outboundID derives the deterministic staging key for an outbound transfer.
// The sequence makes repeated stagings by the same sender distinct.
func outboundID(sender message.Address, targetChain uint16, seq uint64) [32]byte {
	hasher := blake3.New()
	hasher.Write([]byte("swaplayer:staged-outbound"))
	hasher.Write(sender[:])
	hasher.Write([]byte{byte(targetChain >> 8), byte(targetChain)})
	hasher.Write([]byte{byte(seq >> 56), byte(seq >> 48), byte(seq >> 40), byte(seq >> 32),
		byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq)})

	var id [32]byte
	copy(id[:], hasher.Sum(nil))
	return id
}

// fillID derives the redemption key for an attested fill.
func fillID(sourceChain uint16, orderSender message.Address, sequence uint64) [32]byte {
	hasher := blake3.New()
	hasher.Write([]byte("swaplayer:fill"))
	hasher.Write([]byte{byte(sourceChain >> 8), byte(sourceChain)})
	hasher.Write(orderSender[:])
	hasher.Write([]byte{byte(sequence >> 56), byte(sequence >> 48), byte(sequence >> 40), byte(sequence >> 32),
		byte(sequence >> 24), byte(sequence >> 16), byte(sequence >> 8), byte(sequence)})

	var id [32]byte
	copy(id[:], hasher.Sum(nil))
	return id
}

// custodyAuthority turns a staging key into the escrow owner address for
// token account derivation.
func custodyAuthority(id [32]byte) message.Address {
	return message.Address(id)
}
