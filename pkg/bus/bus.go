// Package bus bridges the IMCP master daemon to Redis: inbound Data
// frames from clients are published as state, and an outbound command
// list is drained into Set frames the node engine then transmits. It is
// the generalized, address-agnostic descendant of the teacher's
// battery/vehicle-specific pkg/service.
package bus

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/usbharu/imcp/pkg/redis"
	"github.com/usbharu/imcp/pkg/wire"
)

const commandListKey = "imcp:commands"

func stateKey(addr wire.Address) string {
	return fmt.Sprintf("imcp:client:%s", addr.String())
}

// Command is one queued outbound command: the client address it targets,
// an operation name and an opaque value. Commands sit on the Redis list
// CBOR-encoded (fxamacker/cbor, the teacher's own payload codec) and then
// hex-encoded; cmd/imcpd sends only Value as the Set frame's payload, not
// the envelope itself.
type Command struct {
	Address byte   `cbor:"address"`
	Op      string `cbor:"op"`
	Value   []byte `cbor:"value"`
}

// EncodeCommand CBOR-encodes a Command; QueueCommand stores the result,
// hex-encoded, on the command list.
func EncodeCommand(c Command) ([]byte, error) {
	b, err := cbor.Marshal(c)
	return b, errors.Wrap(err, "bus: encode command")
}

// DecodeCommand reverses EncodeCommand.
func DecodeCommand(b []byte) (Command, error) {
	var c Command
	err := cbor.Unmarshal(b, &c)
	return c, errors.Wrap(err, "bus: decode command")
}

// Bridge is the master-side Redis bridge: one process serves every
// client address on the bus.
type Bridge struct {
	redis *redis.Client
}

// NewBridge wraps an already-connected redis.Client.
func NewBridge(r *redis.Client) *Bridge {
	return &Bridge{redis: r}
}

// PublishData records a client's latest Data payload under its address's
// state hash and notifies subscribers of the change, the same
// write-then-publish shape the teacher's UpdateXxx handlers use for every
// BLE characteristic.
func (b *Bridge) PublishData(addr wire.Address, payload []byte) error {
	key := stateKey(addr)
	if err := b.redis.WriteAndPublishString(key, "data", hex.EncodeToString(payload)); err != nil {
		return errors.Wrap(err, "bus: publish data")
	}
	log.Debug().Str("address", addr.String()).Int("bytes", len(payload)).Msg("published data frame")
	return nil
}

// WatchCommands blocks (up to timeout, 0 = forever) for the next queued
// outbound command and returns it decoded. A timeout with nothing queued
// returns (nil, nil) so callers can loop and check for shutdown between
// waits.
func (b *Bridge) WatchCommands(timeout time.Duration) (*Command, error) {
	result, err := b.redis.BRPop(timeout, commandListKey)
	if err != nil {
		return nil, errors.Wrap(err, "bus: watch commands")
	}
	if result == nil {
		return nil, nil
	}

	raw, err := hex.DecodeString(result[1])
	if err != nil {
		return nil, errors.Wrap(err, "bus: decode queued command hex")
	}
	cmd, err := DecodeCommand(raw)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// QueueCommand pushes a command onto the outbound list for imcpd to pick
// up on its next WatchCommands poll. Intended for other processes (CLI
// tools, other services) that want to push an IMCP command without
// linking the node engine themselves.
func (b *Bridge) QueueCommand(cmd Command) error {
	encoded, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return errors.Wrap(b.redis.LPush(commandListKey, hex.EncodeToString(encoded)), "bus: queue command")
}
