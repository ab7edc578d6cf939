// Package link implements the half-duplex RS-485 link adapter contract
// IMCP nodes run on top of: carrier-sense idle detection before
// transmitting, and turnaround timing derived from the link's baud rate.
package link

import "time"

// Transport is the byte-level contract a node's read/write loop drives.
// Read and Write operate on already-framed (or to-be-framed) IMCP bytes;
// Transport itself knows nothing about frames, only about getting bytes
// on and off one shared, half-duplex bus.
type Transport interface {
	// Read blocks for up to the implementation's own timeout and returns
	// whatever bytes arrived, or (0, nil) if none did.
	Read(buf []byte) (int, error)

	// Write waits for the bus to go idle, then sends buf and waits out
	// the line's turnaround time before returning.
	Write(buf []byte) (int, error)

	Close() error
}

// DriverEnable is the narrow interface a half-duplex RS-485 transceiver's
// driver-enable (DE) pin is accessed through. A Transport that doesn't
// control its own DE pin (auto-direction hardware, or a loopback/test
// transport) can leave this nil.
type DriverEnable interface {
	SetHigh() error
	SetLow() error
}

// ByteTime returns the wire time of a single byte (8 data bits, start and
// stop bit, no parity) at baud.
func ByteTime(baud int) time.Duration {
	return time.Duration(10*1_000_000/baud) * time.Microsecond
}

// IdleDuration is how long the bus must show no activity before a
// transport may safely start transmitting: 1.5 byte-times, the same
// carrier-sense margin imcp-embedded uses.
func IdleDuration(baud int) time.Duration {
	bt := ByteTime(baud)
	return bt + bt/2
}

// TurnaroundDuration is how long to hold the DE pin high after writing n
// bytes: the time to clock them all out plus one byte-time of margin for
// the transceiver to finish its last bit.
func TurnaroundDuration(baud, n int) time.Duration {
	bt := ByteTime(baud)
	return bt*time.Duration(n) + bt
}
