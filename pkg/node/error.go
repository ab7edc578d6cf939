package node

import "github.com/usbharu/imcp/pkg/frame"

// ImcpError is the union ReadTick and WriteTick return: exactly one of
// Encode, Decode or Protocol is non-nil. It lets callers handle the three
// failure domains (malformed outgoing frame, malformed incoming bytes,
// well-formed-but-invalid-for-this-node's-state) without losing the
// concrete error kind, while still satisfying the plain error interface
// for logging and for github.com/pkg/errors wrapping at the host boundary.
type ImcpError struct {
	Encode   *frame.EncodeError
	Decode   *frame.DecodeError
	Protocol *frame.ProtocolError
}

func (e *ImcpError) Error() string {
	switch {
	case e.Encode != nil:
		return e.Encode.Error()
	case e.Decode != nil:
		return e.Decode.Error()
	case e.Protocol != nil:
		return e.Protocol.Error()
	default:
		return "imcp: unknown error"
	}
}

func encodeErr(e *frame.EncodeError) *ImcpError   { return &ImcpError{Encode: e} }
func decodeErr(e *frame.DecodeError) *ImcpError   { return &ImcpError{Decode: e} }
func protocolErr(e *frame.ProtocolError) *ImcpError { return &ImcpError{Protocol: e} }
