// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/common"
)

// Wire discriminants.
const (
	tagOutputUsdc  = 0
	tagOutputGas   = 1
	tagOutputOther = 2

	tagRedeemDirect  = 0
	tagRedeemPayload = 1
	tagRedeemRelay   = 2

	tagRouterUniswapV3 = 1
	tagRouterTraderJoe = 2
	tagRouterJupiterV6 = 16
)

// Encode serializes a settlement message to its canonical byte form.
// Encode and Decode are inverses for all valid messages.
func Encode(m SwapMessage) ([]byte, error) {
	var buf bytes.Buffer

	if err := encodeOutputToken(&buf, m.OutputToken); err != nil {
		return nil, err
	}

	var payload []byte
	switch mode := m.RedeemMode.(type) {
	case RedeemDirect:
		buf.WriteByte(tagRedeemDirect)
	case RedeemRelay:
		if mode.RelayingFee > MaxRelayingFee {
			return nil, fmt.Errorf("%w: relaying fee %d exceeds uint48", ErrValueOutOfRange, mode.RelayingFee)
		}
		buf.WriteByte(tagRedeemRelay)
		writeUint32(&buf, mode.GasDropoff)
		writeUint48(&buf, mode.RelayingFee)
	case RedeemPayload:
		if len(mode.Buf) > MaxPayloadLen {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(mode.Buf))
		}
		buf.WriteByte(tagRedeemPayload)
		buf.Write(mode.Sender[:])
		payload = mode.Buf
	default:
		return nil, fmt.Errorf("%w: unknown redeem mode %T", ErrMalformedMessage, m.RedeemMode)
	}

	buf.Write(m.Recipient[:])

	// The payload buffer has no length prefix: it runs to the end of the
	// message.
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode parses a canonical settlement message. It fails with
// ErrMalformedMessage on an unknown discriminant, a truncated buffer, or
// trailing bytes that do not belong to a payload-mode buffer.
func Decode(data []byte) (SwapMessage, error) {
	r := &reader{buf: data}

	token, err := decodeOutputToken(r)
	if err != nil {
		return SwapMessage{}, err
	}

	var msg SwapMessage
	msg.OutputToken = token

	isPayload := false
	var sender Address
	switch tag := r.readByte(); tag {
	case tagRedeemDirect:
		msg.RedeemMode = RedeemDirect{}
	case tagRedeemRelay:
		msg.RedeemMode = RedeemRelay{
			GasDropoff:  r.readUint32(),
			RelayingFee: r.readUint48(),
		}
	case tagRedeemPayload:
		sender = r.readAddress()
		isPayload = true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: unknown redeem mode tag %d", ErrMalformedMessage, tag)
		}
	}

	msg.Recipient = r.readAddress()

	if r.err != nil {
		return SwapMessage{}, r.err
	}

	if isPayload {
		rest := r.rest()
		if len(rest) > MaxPayloadLen {
			return SwapMessage{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(rest))
		}
		msg.RedeemMode = RedeemPayload{Sender: sender, Buf: rest}
	} else if r.remaining() != 0 {
		return SwapMessage{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, r.remaining())
	}

	return msg, nil
}

func encodeOutputToken(buf *bytes.Buffer, token OutputToken) error {
	switch t := token.(type) {
	case OutputUsdc:
		buf.WriteByte(tagOutputUsdc)
		return nil
	case OutputGas:
		buf.WriteByte(tagOutputGas)
		return encodeSwapSpec(buf, t.Swap)
	case OutputOther:
		buf.WriteByte(tagOutputOther)
		buf.Write(t.Address[:])
		return encodeSwapSpec(buf, t.Swap)
	default:
		return fmt.Errorf("%w: unknown output token %T", ErrMalformedMessage, token)
	}
}

func decodeOutputToken(r *reader) (OutputToken, error) {
	switch tag := r.readByte(); {
	case r.err != nil:
		return nil, r.err
	case tag == tagOutputUsdc:
		return OutputUsdc{}, nil
	case tag == tagOutputGas:
		swap, err := decodeSwapSpec(r)
		if err != nil {
			return nil, err
		}
		return OutputGas{Swap: swap}, nil
	case tag == tagOutputOther:
		address := r.readAddress()
		swap, err := decodeSwapSpec(r)
		if err != nil {
			return nil, err
		}
		return OutputOther{Address: address, Swap: swap}, nil
	default:
		return nil, fmt.Errorf("%w: unknown output token tag %d", ErrMalformedMessage, tag)
	}
}

func encodeSwapSpec(buf *bytes.Buffer, spec SwapSpec) error {
	writeUint32(buf, spec.Deadline)
	writeUint64(buf, spec.LimitAmount)

	switch router := spec.Router.(type) {
	case RouterUniswapV3:
		buf.WriteByte(tagRouterUniswapV3)
		if err := writeUint24(buf, router.FirstLegFee); err != nil {
			return err
		}
		if len(router.Path) > 0xff {
			return fmt.Errorf("%w: router path of %d hops", ErrValueOutOfRange, len(router.Path))
		}
		buf.WriteByte(byte(len(router.Path)))
		for _, hop := range router.Path {
			buf.Write(hop.Token[:])
			if err := writeUint24(buf, hop.Fee); err != nil {
				return err
			}
		}
	case RouterTraderJoe:
		buf.WriteByte(tagRouterTraderJoe)
		writePoolID(buf, router.FirstPoolID)
		if len(router.Path) > 0xff {
			return fmt.Errorf("%w: router path of %d hops", ErrValueOutOfRange, len(router.Path))
		}
		buf.WriteByte(byte(len(router.Path)))
		for _, hop := range router.Path {
			buf.Write(hop.Token[:])
			writePoolID(buf, hop.PoolID)
		}
	case RouterJupiterV6:
		buf.WriteByte(tagRouterJupiterV6)
		if router.DexProgramID != nil {
			buf.WriteByte(1)
			buf.Write(router.DexProgramID[:])
		} else {
			buf.WriteByte(0)
		}
	default:
		return fmt.Errorf("%w: unknown router kind %T", ErrMalformedMessage, spec.Router)
	}
	return nil
}

func decodeSwapSpec(r *reader) (SwapSpec, error) {
	spec := SwapSpec{
		Deadline:    r.readUint32(),
		LimitAmount: r.readUint64(),
	}

	switch tag := r.readByte(); {
	case r.err != nil:
		return SwapSpec{}, r.err
	case tag == tagRouterUniswapV3:
		router := RouterUniswapV3{FirstLegFee: r.readUint24()}
		pathLen := int(r.readByte())
		for i := 0; i < pathLen && r.err == nil; i++ {
			router.Path = append(router.Path, UniswapHop{
				Token: r.readEvmAddress(),
				Fee:   r.readUint24(),
			})
		}
		spec.Router = router
	case tag == tagRouterTraderJoe:
		router := RouterTraderJoe{FirstPoolID: r.readPoolID()}
		pathLen := int(r.readByte())
		for i := 0; i < pathLen && r.err == nil; i++ {
			router.Path = append(router.Path, TraderJoeHop{
				Token:  r.readEvmAddress(),
				PoolID: r.readPoolID(),
			})
		}
		spec.Router = router
	case tag == tagRouterJupiterV6:
		router := RouterJupiterV6{}
		switch opt := r.readByte(); {
		case r.err != nil:
		case opt == 1:
			id := r.readAddress()
			router.DexProgramID = &id
		case opt != 0:
			r.err = fmt.Errorf("%w: invalid option byte %d", ErrMalformedMessage, opt)
		}
		spec.Router = router
	default:
		return SwapSpec{}, fmt.Errorf("%w: unknown router tag %d", ErrMalformedMessage, tag)
	}

	if r.err != nil {
		return SwapSpec{}, r.err
	}
	return spec, nil
}

func writeUint24(buf *bytes.Buffer, v uint32) error {
	if v > 0xffffff {
		return fmt.Errorf("%w: %d exceeds uint24", ErrValueOutOfRange, v)
	}
	buf.Write([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint48(buf *bytes.Buffer, v uint64) {
	buf.Write([]byte{byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writePoolID(buf *bytes.Buffer, id TraderJoePoolID) {
	buf.WriteByte(id.Version)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], id.BinSize)
	buf.Write(b[:])
}

// reader is a cursor over the message buffer. The first failure sticks; all
// later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrMalformedMessage, len(r.buf))
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) readByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readUint24() uint32 {
	b := r.take(3)
	if b == nil {
		return 0
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (r *reader) readUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) readUint48() uint64 {
	b := r.take(6)
	if b == nil {
		return 0
	}
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func (r *reader) readUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) readAddress() Address {
	var out Address
	if b := r.take(32); b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *reader) readEvmAddress() common.Address {
	var out common.Address
	if b := r.take(20); b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *reader) readPoolID() TraderJoePoolID {
	version := r.readByte()
	b := r.take(2)
	if b == nil {
		return TraderJoePoolID{}
	}
	return TraderJoePoolID{Version: version, BinSize: binary.BigEndian.Uint16(b)}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) rest() []byte {
	out := make([]byte, r.remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}
