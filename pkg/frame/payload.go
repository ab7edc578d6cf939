package frame

import "github.com/usbharu/imcp/pkg/wire"

// Payload is the tagged variant carrying type-specific frame data (spec.md
// §3). Go has no sum type, so the zero value of every field not relevant
// to Type is simply unused; callers are expected to build one through the
// New* constructors rather than populating the struct by hand.
type Payload struct {
	Type wire.FrameType

	// Ack: the address being acknowledged.
	AckAddr byte

	// Join: the client's 32-bit hardware id.
	JoinID uint32

	// SetAddress: the freshly assigned address, and the id of the client
	// it targets.
	SetAddr   byte
	SetAddrID uint32

	// Data, Set: opaque bytes. Never nil for Set (min length 1);
	// may be empty (but non-nil) for Data.
	Bytes []byte
}

// PingPayload, PongPayload and AckPayload build the fixed zero/one-field
// payloads.
func PingPayload() Payload { return Payload{Type: wire.Ping} }
func PongPayload() Payload { return Payload{Type: wire.Pong} }

// AckPayload builds an Ack(addr) payload. addr is the acknowledged
// to_address byte — 0xFF for a broadcast ack.
func AckPayload(addr byte) Payload {
	return Payload{Type: wire.Ack, AckAddr: addr}
}

// JoinPayload builds a Join(id) payload.
func JoinPayload(id uint32) Payload {
	return Payload{Type: wire.Join, JoinID: id}
}

// SetAddressPayload builds a SetAddress{address, id} payload.
func SetAddressPayload(address byte, id uint32) Payload {
	return Payload{Type: wire.SetAddress, SetAddr: address, SetAddrID: id}
}

// DataPayload builds a Data(bytes) payload. data may be empty.
func DataPayload(data []byte) Payload {
	return Payload{Type: wire.Data, Bytes: data}
}

// SetPayload builds a Set(bytes) payload. data must be non-empty; callers
// constructing frames for Encode are responsible for that invariant, the
// same way the decoder enforces it on the way in.
func SetPayload(data []byte) Payload {
	return Payload{Type: wire.Set, Bytes: data}
}

// Len returns the wire payload length spec.md §3's table specifies for
// the payload's type.
func (p Payload) Len() uint16 {
	switch p.Type {
	case wire.Ping, wire.Pong:
		return 0
	case wire.Ack:
		return 1
	case wire.Join:
		return 4
	case wire.SetAddress:
		return 5
	case wire.Data, wire.Set:
		return uint16(len(p.Bytes))
	default:
		return 0
	}
}

// rawBytes returns the pre-stuffing payload bytes to write to the wire,
// in the order Encode emits the header-then-payload-then-checksum body.
func (p Payload) rawBytes() []byte {
	switch p.Type {
	case wire.Ack:
		return []byte{p.AckAddr}
	case wire.Join:
		var b [4]byte
		putU32LE(b[:], p.JoinID)
		return b[:]
	case wire.SetAddress:
		b := make([]byte, 5)
		b[0] = p.SetAddr
		putU32LE(b[1:], p.SetAddrID)
		return b
	case wire.Data, wire.Set:
		return p.Bytes
	default:
		return nil
	}
}

func decodePayload(t wire.FrameType, body []byte) (Payload, *DecodeError) {
	n := len(body)
	switch t {
	case wire.Ping:
		if n != 0 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		return PingPayload(), nil
	case wire.Pong:
		if n != 0 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		return PongPayload(), nil
	case wire.Ack:
		if n != 1 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		return AckPayload(body[0]), nil
	case wire.Join:
		if n != 4 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		return JoinPayload(getU32LE(body)), nil
	case wire.SetAddress:
		if n != 5 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		return SetAddressPayload(body[0], getU32LE(body[1:])), nil
	case wire.Data:
		cp := make([]byte, n)
		copy(cp, body)
		return DataPayload(cp), nil
	case wire.Set:
		if n < 1 {
			return Payload{}, newDecodeError(InvalidPayloadLength)
		}
		cp := make([]byte, n)
		copy(cp, body)
		return SetPayload(cp), nil
	default:
		return Payload{}, newUnknownFrameType(byte(t))
	}
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
