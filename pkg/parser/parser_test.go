package parser_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/parser"
	"github.com/usbharu/imcp/pkg/wire"
)

func newParser() *parser.FrameParser {
	return parser.New(make([]byte, 256), make([]byte, 128))
}

func encode(t *testing.T, f frame.Frame) []byte {
	t.Helper()
	buf := make([]byte, f.MaxEncodedLen())
	n, err := f.Encode(buf)
	require.Nil(t, err)
	return buf[:n]
}

func TestParserWholeFrameInOneWrite(t *testing.T) {
	p := newParser()
	f := frame.New(wire.UnicastAddr(0x02), wire.UnicastAddr(0x01), frame.PingPayload())
	wire_ := encode(t, f)

	_, werr := p.WriteData(wire_)
	require.Nil(t, werr)

	got, derr := p.NextFrame()
	require.Nil(t, derr)
	require.NotNil(t, got)
	assert.Equal(t, f, *got)

	got2, derr2 := p.NextFrame()
	assert.Nil(t, derr2)
	assert.Nil(t, got2)
}

// NextFrame must return the same result regardless of how the caller
// chunks write_data calls — one byte at a time, or all at once.
func TestParserChunkingInvariance(t *testing.T) {
	f := frame.New(wire.UnicastAddr(0x03), wire.UnicastAddr(0x01), frame.DataPayload([]byte{0xFE, 0xFF, 0xFD, 1, 2, 3}))
	wire_ := encode(t, f)

	p := newParser()
	var got *frame.Frame
	for _, b := range wire_ {
		_, werr := p.WriteData([]byte{b})
		require.Nil(t, werr)
		f2, derr := p.NextFrame()
		require.Nil(t, derr)
		if f2 != nil {
			got = f2
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, f, *got)
}

func TestParserMultipleFramesBackToBack(t *testing.T) {
	f1 := frame.New(wire.UnicastAddr(0x02), wire.UnicastAddr(0x01), frame.PingPayload())
	f2 := frame.New(wire.UnicastAddr(0x01), wire.UnicastAddr(0x02), frame.PongPayload())

	p := newParser()
	buf := append(encode(t, f1), encode(t, f2)...)
	_, werr := p.WriteData(buf)
	require.Nil(t, werr)

	got1, derr1 := p.NextFrame()
	require.Nil(t, derr1)
	require.NotNil(t, got1)
	assert.Equal(t, f1, *got1)

	got2, derr2 := p.NextFrame()
	require.Nil(t, derr2)
	require.NotNil(t, got2)
	assert.Equal(t, f2, *got2)

	got3, derr3 := p.NextFrame()
	assert.Nil(t, derr3)
	assert.Nil(t, got3)
}

// Garbage preceding SOF is silently discarded; the parser resyncs.
func TestParserResyncsOnLeadingNoise(t *testing.T) {
	f := frame.New(wire.UnicastAddr(0x02), wire.UnicastAddr(0x01), frame.PingPayload())
	noisy := append([]byte{0x00, 0x01, 0xAA, wire.EOF}, encode(t, f)...)

	p := newParser()
	_, werr := p.WriteData(noisy)
	require.Nil(t, werr)

	got, derr := p.NextFrame()
	require.Nil(t, derr)
	require.NotNil(t, got)
	assert.Equal(t, f, *got)
}

// A corrupted frame (bad checksum) is reported once, then the parser is
// ready to scan the next, well-formed frame.
func TestParserResyncsAfterDecodeError(t *testing.T) {
	f := frame.New(wire.UnicastAddr(0x02), wire.UnicastAddr(0x01), frame.PingPayload())
	good := encode(t, f)

	bad := append([]byte{}, good...)
	bad[len(bad)-2] ^= 0xFF // flip the checksum byte

	p := newParser()
	_, werr := p.WriteData(append(bad, good...))
	require.Nil(t, werr)

	_, derr1 := p.NextFrame()
	require.NotNil(t, derr1)
	assert.Equal(t, frame.InvalidChecksum, derr1.Kind)

	got2, derr2 := p.NextFrame()
	require.Nil(t, derr2)
	require.NotNil(t, got2)
	assert.Equal(t, f, *got2)
}

func TestParserInvalidEscapeSequence(t *testing.T) {
	p := newParser()
	malformed := []byte{wire.SOF, wire.ESC, wire.ESC, wire.EOF}
	_, werr := p.WriteData(malformed)
	require.Nil(t, werr)

	_, derr := p.NextFrame()
	require.NotNil(t, derr)
	assert.Equal(t, frame.InvalidEscapeSequence, derr.Kind)
}

func TestParserFrameTooLargeForBuffer(t *testing.T) {
	p := parser.New(make([]byte, 256), make([]byte, 4))
	f := frame.New(wire.UnicastAddr(0x03), wire.UnicastAddr(0x01), frame.DataPayload([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	_, werr := p.WriteData(encode(t, f))
	require.Nil(t, werr)

	_, derr := p.NextFrame()
	require.NotNil(t, derr)
	assert.Equal(t, frame.FrameBufferTooSmall, derr.Kind)
}

// Property: splitting an arbitrary stream of N encoded frames into any
// sequence of WriteData chunk sizes yields, in order, the same N frames
// that were encoded into the stream.
func TestPropertyChunkingDoesNotAffectOutput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		var frames []frame.Frame
		var stream []byte
		for i := 0; i < n; i++ {
			to := rapid.Byte().Draw(rt, "to")
			data := rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(rt, "data")
			f := frame.New(wire.AddressFromByte(to), wire.UnicastAddr(0x01), frame.DataPayload(data))
			frames = append(frames, f)
			buf := make([]byte, f.MaxEncodedLen())
			written, err := f.Encode(buf)
			if err != nil {
				rt.Fatalf("encode: %v", err)
			}
			stream = append(stream, buf[:written]...)
		}

		chunkSize := rapid.IntRange(1, 7).Draw(rt, "chunkSize")
		p := parser.New(make([]byte, 4096), make([]byte, 256))

		var got []frame.Frame
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			if _, err := p.WriteData(stream[off:end]); err != nil {
				rt.Fatalf("write: %v", err)
			}
			for {
				f, derr := p.NextFrame()
				if derr != nil {
					rt.Fatalf("decode: %v", derr)
				}
				if f == nil {
					break
				}
				got = append(got, *f)
			}
		}

		if len(got) != len(frames) {
			rt.Fatalf("expected %d frames, got %d", len(frames), len(got))
		}
		for i := range frames {
			if got[i].To != frames[i].To || got[i].From != frames[i].From {
				rt.Fatalf("frame %d address mismatch", i)
			}
			if got[i].Payload.Type != frames[i].Payload.Type || !bytes.Equal(got[i].Payload.Bytes, frames[i].Payload.Bytes) {
				rt.Fatalf("frame %d payload mismatch", i)
			}
		}
	})
}
