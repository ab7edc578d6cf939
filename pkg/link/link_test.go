package link_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usbharu/imcp/pkg/link"
)

func TestByteTime9600Baud(t *testing.T) {
	// 10 bits/byte at 9600 baud is ~1.0417ms; integer-microsecond truncation
	// puts it at 1.041ms.
	got := link.ByteTime(9600)
	assert.InDelta(t, 1041, got.Microseconds(), 1)
}

func TestIdleDurationIsOneAndAHalfByteTimes(t *testing.T) {
	bt := link.ByteTime(115200)
	idle := link.IdleDuration(115200)
	assert.Equal(t, bt+bt/2, idle)
}

func TestTurnaroundDurationScalesWithLength(t *testing.T) {
	bt := link.ByteTime(9600)
	got := link.TurnaroundDuration(9600, 8)
	assert.Equal(t, bt*8+bt, got)
}

func TestTurnaroundDurationZeroBytesIsJustMargin(t *testing.T) {
	bt := link.ByteTime(9600)
	got := link.TurnaroundDuration(9600, 0)
	assert.Equal(t, bt, got)
}

func TestByteTimeDecreasesWithHigherBaud(t *testing.T) {
	assert.True(t, link.ByteTime(115200) < link.ByteTime(9600))
}

func TestIdleDurationPositive(t *testing.T) {
	assert.True(t, link.IdleDuration(9600) > time.Duration(0))
}
