package frame

import (
	"fmt"

	"github.com/usbharu/imcp/pkg/wire"
)

// EncodeError is returned by Frame.Encode.
type EncodeError struct {
	// BufferTooSmall is true when the destination buffer overflowed
	// mid-write.
	BufferTooSmall bool
}

func (e *EncodeError) Error() string {
	return "frame: output buffer too small"
}

// ErrBufferTooSmall is the sentinel EncodeError value Encode returns.
var ErrBufferTooSmall = &EncodeError{BufferTooSmall: true}

// DecodeErrorKind discriminates the DecodeError cases spec.md §7 names.
type DecodeErrorKind int

const (
	InvalidChecksum DecodeErrorKind = iota
	UnknownFrameType
	InvalidPayloadLength
	FrameBufferTooSmall
	InvalidEscapeSequence
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidChecksum:
		return "invalid checksum"
	case UnknownFrameType:
		return "unknown frame type"
	case InvalidPayloadLength:
		return "invalid payload length"
	case FrameBufferTooSmall:
		return "frame buffer too small"
	case InvalidEscapeSequence:
		return "invalid escape sequence"
	default:
		return "unknown decode error"
	}
}

// DecodeError is returned by Frame.Decode and propagated through the
// parser. Byte holds the offending id for UnknownFrameType; it's zero
// otherwise.
type DecodeError struct {
	Kind DecodeErrorKind
	Byte byte
}

func (e *DecodeError) Error() string {
	if e.Kind == UnknownFrameType {
		return fmt.Sprintf("frame: %s (0x%02x)", e.Kind, e.Byte)
	}
	return "frame: " + e.Kind.String()
}

func newDecodeError(kind DecodeErrorKind) *DecodeError {
	return &DecodeError{Kind: kind}
}

func newUnknownFrameType(b byte) *DecodeError {
	return &DecodeError{Kind: UnknownFrameType, Byte: b}
}

// ProtocolErrorKind discriminates the well-formed-but-misused cases the
// node engine surfaces.
type ProtocolErrorKind int

const (
	UnexpectedAck ProtocolErrorKind = iota
	InvalidFrameType
	NodeNotReady
)

// ProtocolError is returned by the node engine; FrameType is populated
// only for InvalidFrameType.
type ProtocolError struct {
	Kind      ProtocolErrorKind
	FrameType wire.FrameType
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case UnexpectedAck:
		return "imcp: unexpected ack"
	case InvalidFrameType:
		return fmt.Sprintf("imcp: invalid frame type for role/state: %s", e.FrameType)
	case NodeNotReady:
		return "imcp: node not ready"
	default:
		return "imcp: protocol error"
	}
}
