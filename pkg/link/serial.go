package link

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
)

// SerialTransport is a Transport over a real RS-485 UART device. It
// performs the carrier-sense wait and post-write turnaround delay itself,
// so a node using it never needs to poll the bus any faster than one
// byte-time.
type SerialTransport struct {
	port *serial.Port
	baud int
	de   DriverEnable

	mu sync.Mutex
}

// OpenSerial opens devicePath at baud and returns a ready-to-use
// SerialTransport. It clears the port's attributes first by opening and
// immediately closing it at a default rate, the same two-step open the
// teacher's usock.New performs to guarantee a clean line state before the
// real session begins.
func OpenSerial(devicePath string, baud int, de DriverEnable) (*SerialTransport, error) {
	if err := clearAttributes(devicePath); err != nil {
		return nil, errors.Wrap(err, "link: clear uart attributes")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        devicePath,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: ByteTime(baud),
	})
	if err != nil {
		return nil, errors.Wrap(err, "link: open serial port")
	}

	if de != nil {
		if err := de.SetLow(); err != nil {
			_ = port.Close()
			return nil, errors.Wrap(err, "link: set de pin low")
		}
	}

	log.Debug().Str("device", devicePath).Int("baud", baud).Msg("serial transport opened")
	return &SerialTransport{port: port, baud: baud, de: de}, nil
}

func clearAttributes(devicePath string) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        devicePath,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	})
	if err != nil {
		return err
	}
	if err := port.Close(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Read reads whatever is currently available, up to len(buf) bytes. It
// does not itself implement the carrier-sense wait; that only matters
// before a Write. A read that times out with nothing received, which
// tarm/serial reports as io.EOF, returns (0, nil).
func (t *SerialTransport) Read(buf []byte) (int, error) {
	n, err := t.port.Read(buf)
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "link: read")
	}
	return n, nil
}

// Write waits for the bus to go idle, raises DE, writes buf, waits out
// the turnaround time, then lowers DE again.
func (t *SerialTransport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.waitIdle(); err != nil {
		return 0, err
	}

	if t.de != nil {
		if err := t.de.SetHigh(); err != nil {
			return 0, errors.Wrap(err, "link: set de pin high")
		}
	}

	n, err := t.port.Write(buf)
	if err != nil {
		if t.de != nil {
			_ = t.de.SetLow()
		}
		return 0, errors.Wrap(err, "link: write")
	}

	time.Sleep(TurnaroundDuration(t.baud, n))

	if t.de != nil {
		if err := t.de.SetLow(); err != nil {
			return 0, errors.Wrap(err, "link: set de pin low")
		}
	}
	return n, nil
}

// waitIdle blocks until a full IdleDuration(baud) has elapsed with no
// byte arriving, the carrier-sense check imcp-embedded performs before
// every write. The port was opened with a ByteTime read timeout, so each
// poll either returns a byte (bus busy, reset the quiet clock) or times
// out with no data, which tarm/serial reports as io.EOF (bus quiet).
func (t *SerialTransport) waitIdle() error {
	idle := IdleDuration(t.baud)
	probe := make([]byte, 1)
	quietSince := time.Now()

	for time.Since(quietSince) < idle {
		n, err := t.port.Read(probe)
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "link: carrier sense read")
		}
		if n > 0 {
			quietSince = time.Now()
		}
	}
	return nil
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
