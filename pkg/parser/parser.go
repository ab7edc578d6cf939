// Package parser implements the streaming IMCP frame scanner: byte-stuffed
// data arrives in arbitrary chunks over write_data calls and next_frame is
// polled to unstuff, decode and return whole frames as they complete.
package parser

import (
	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/wire"
)

type state int

const (
	waitingForSOF state = iota
	receiving
)

// FrameParser holds two caller-sized buffers: rx accumulates raw
// (stuffed) bytes as they arrive, frameBuf accumulates the unstuffed body
// of the frame currently being scanned. Neither buffer grows. A frame that
// overflows frameBuf is reported as FrameBufferTooSmall and the parser
// resyncs by returning to waitingForSOF; a WriteData chunk that does not
// fit in rx is rejected with FrameBufferTooSmall and the scan state is left
// as it was.
type FrameParser struct {
	rx        []byte
	rxLen     int
	rxScanPos int

	frameBuf []byte
	frameLen int

	state      state
	isEscaping bool
}

// New builds a FrameParser over caller-owned buffers. rxBuffer should be
// sized for the largest burst of raw bytes expected between polls;
// frameBuffer must be at least as large as the largest unstuffed frame
// body the link will carry (wire.MaxPayloadSize plus header and checksum
// is the usual sizing).
func New(rxBuffer, frameBuffer []byte) *FrameParser {
	return &FrameParser{rx: rxBuffer, frameBuf: frameBuffer, state: waitingForSOF}
}

// WriteData appends newData to the rx buffer, compacting out already-
// scanned bytes first. It returns FrameBufferTooSmall if newData does not
// fit even after compaction.
func (p *FrameParser) WriteData(newData []byte) (int, *frame.DecodeError) {
	p.consumeRxBuffer()

	free := len(p.rx) - p.rxLen
	if len(newData) > free {
		return 0, newDecodeErr(frame.FrameBufferTooSmall)
	}
	copy(p.rx[p.rxLen:p.rxLen+len(newData)], newData)
	p.rxLen += len(newData)
	return len(newData), nil
}

// NextFrame scans as far into the rx buffer as it can and returns the
// next decoded frame, a decode error if the bytes scanned so far are
// malformed, or (nil, nil) if more data is needed before a full frame (or
// error) can be produced. Call it repeatedly after each WriteData until
// it returns (nil, nil) to drain every frame a chunk completed.
func (p *FrameParser) NextFrame() (*frame.Frame, *frame.DecodeError) {
	for p.rxScanPos < p.rxLen {
		b := p.rx[p.rxScanPos]
		p.rxScanPos++

		switch p.state {
		case waitingForSOF:
			if b == wire.SOF {
				p.state = receiving
				p.frameLen = 0
				p.isEscaping = false
			}

		case receiving:
			switch b {
			case wire.SOF:
				p.frameLen = 0
				p.isEscaping = false

			case wire.EOF:
				p.state = waitingForSOF
				if p.isEscaping {
					p.isEscaping = false
					return nil, newDecodeErr(frame.InvalidEscapeSequence)
				}
				f, err := frame.Decode(p.frameBuf[:p.frameLen])
				if err != nil {
					return nil, err
				}
				return &f, nil

			case wire.ESC:
				if p.isEscaping {
					p.state = waitingForSOF
					return nil, newDecodeErr(frame.InvalidEscapeSequence)
				}
				p.isEscaping = true

			default:
				if p.frameLen >= len(p.frameBuf) {
					p.state = waitingForSOF
					return nil, newDecodeErr(frame.FrameBufferTooSmall)
				}
				if p.isEscaping {
					p.frameBuf[p.frameLen] = b ^ wire.ESCXor
					p.isEscaping = false
				} else {
					p.frameBuf[p.frameLen] = b
				}
				p.frameLen++
			}
		}
	}
	return nil, nil
}

// consumeRxBuffer discards the already-scanned prefix of rx, sliding the
// unscanned tail down to offset 0.
func (p *FrameParser) consumeRxBuffer() {
	if p.rxScanPos > 0 {
		copy(p.rx, p.rx[p.rxScanPos:p.rxLen])
		p.rxLen -= p.rxScanPos
		p.rxScanPos = 0
	}
}

func newDecodeErr(kind frame.DecodeErrorKind) *frame.DecodeError {
	return &frame.DecodeError{Kind: kind}
}
