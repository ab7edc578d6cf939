// Package frame implements the IMCP frame codec: header+payload+checksum
// construction, byte-stuffed wire encoding and decoding of a single frame.
package frame

import "github.com/usbharu/imcp/pkg/wire"

// HeaderLen is the fixed unstuffed header size: to_address, from_address,
// frame_type, payload_len (u16 LE).
const HeaderLen = 5

// ChecksumLen is the trailing XOR checksum byte.
const ChecksumLen = 1

// Frame is a fully decoded IMCP frame.
type Frame struct {
	To      wire.Address
	From    wire.Address
	Payload Payload
}

// New builds a Frame from its three fields.
func New(to, from wire.Address, payload Payload) Frame {
	return Frame{To: to, From: from, Payload: payload}
}

// bodyLen is the unstuffed header+payload+checksum length, before any
// byte stuffing is applied.
func (f Frame) bodyLen() int {
	return HeaderLen + int(f.Payload.Len()) + ChecksumLen
}

// MaxEncodedLen is the worst-case stuffed-and-delimited wire length: every
// body byte happens to need escaping, plus the SOF/EOF delimiters.
func (f Frame) MaxEncodedLen() int {
	return 2*f.bodyLen() + 2
}

func checksum(body []byte) byte {
	var c byte
	for _, b := range body {
		c ^= b
	}
	return c
}

// Encode writes the complete wire representation — SOF, stuffed
// header+payload+checksum, EOF — into buf and returns the number of bytes
// written. It returns ErrBufferTooSmall, leaving buf's contents undefined,
// if buf cannot hold this frame's actual stuffed length; a buf shorter than
// MaxEncodedLen is accepted as long as the bytes really written fit.
func (f Frame) Encode(buf []byte) (int, *EncodeError) {
	plen := f.Payload.Len()
	body := make([]byte, 0, f.bodyLen())
	body = append(body,
		f.To.AsByte(),
		f.From.AsByte(),
		byte(f.Payload.Type),
		byte(plen),
		byte(plen>>8),
	)
	body = append(body, f.Payload.rawBytes()...)
	body = append(body, checksum(body))

	n := 0
	put := func(b byte) bool {
		if n >= len(buf) {
			return false
		}
		buf[n] = b
		n++
		return true
	}
	if !put(wire.SOF) {
		return 0, ErrBufferTooSmall
	}
	for _, b := range body {
		if b == wire.SOF || b == wire.EOF || b == wire.ESC {
			if !put(wire.ESC) || !put(b^wire.ESCXor) {
				return 0, ErrBufferTooSmall
			}
			continue
		}
		if !put(b) {
			return 0, ErrBufferTooSmall
		}
	}
	if !put(wire.EOF) {
		return 0, ErrBufferTooSmall
	}
	return n, nil
}

// Decode parses an already-unstuffed body — header, payload, checksum,
// with SOF/EOF already stripped and escape sequences already resolved by
// the caller (pkg/parser owns that buffer). body must be at least
// HeaderLen+ChecksumLen bytes long.
func Decode(body []byte) (Frame, *DecodeError) {
	if len(body) < HeaderLen+ChecksumLen {
		return Frame{}, newDecodeError(InvalidPayloadLength)
	}

	want := checksum(body[:len(body)-ChecksumLen])
	got := body[len(body)-ChecksumLen]
	if want != got {
		return Frame{}, newDecodeError(InvalidChecksum)
	}

	to := wire.AddressFromByte(body[0])
	from := wire.AddressFromByte(body[1])
	typeByte := body[2]
	declaredLen := uint16(body[3]) | uint16(body[4])<<8

	payloadBody := body[HeaderLen : len(body)-ChecksumLen]
	if int(declaredLen) != len(payloadBody) {
		return Frame{}, newDecodeError(InvalidPayloadLength)
	}

	ft, ok := wire.FrameTypeFromByte(typeByte)
	if !ok {
		return Frame{}, newUnknownFrameType(typeByte)
	}

	payload, err := decodePayload(ft, payloadBody)
	if err != nil {
		return Frame{}, err
	}
	return Frame{To: to, From: from, Payload: payload}, nil
}
