package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/node"
	"github.com/usbharu/imcp/pkg/wire"
)

func newClient(addr byte, state node.ClientState) *node.Node {
	return node.NewClient(wire.UnicastAddr(addr), state, make([]byte, 256), make([]byte, 128))
}

func newMaster() *node.Node {
	return node.NewMaster(make([]byte, 256), make([]byte, 128))
}

// Broadcast Acks are tolerated even outside any pending exchange, and the
// decoded frame is still handed back to the caller.
func TestReadTickIgnoresBroadcastAck(t *testing.T) {
	c := newClient(0x02, node.ClientState{Kind: node.Ready})

	data := []byte{
		wire.SOF, 0x02, 0x01, 0x02, 0x01, 0x00,
		wire.ESC, wire.ESCXor ^ wire.EOF,
		wire.ESC, wire.ESCXor ^ wire.EOF,
		wire.EOF,
	}

	got, err := c.ReadTick(data)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wire.Ack, got.Payload.Type)
	assert.Equal(t, byte(0xFF), got.Payload.AckAddr)
}

// A unicast Ack with nothing pending to match it is a protocol violation.
func TestReadTickUnexpectedAck(t *testing.T) {
	c := newClient(0x02, node.ClientState{Kind: node.Ready})

	data := []byte{wire.SOF, 0x02, 0x01, 0x02, 0x01, 0x00, 0x01, 0x01, wire.EOF}

	_, err := c.ReadTick(data)
	require.NotNil(t, err)
	require.NotNil(t, err.Protocol)
	assert.Equal(t, frame.UnexpectedAck, err.Protocol.Kind)
}

// A SetAddress whose id doesn't match the client's pending join is
// silently swallowed: no error, no visible frame, join state unchanged.
func TestReadTickSetAddressForAnotherJoiningClient(t *testing.T) {
	c := newClient(wire.Unassn, node.ClientState{Kind: node.NotReady})
	joinErr := c.SendJoin(11)
	require.Nil(t, joinErr)

	data := []byte{
		wire.SOF, 0x00, 0x01, 0x04, 0x05, 0x00,
		0x02, 12, 0x00, 0x00, 0x00,
		0x0e, wire.EOF,
	}

	got, err := c.ReadTick(data)
	require.Nil(t, err)
	assert.Nil(t, got)
	assert.Equal(t, node.Joining, c.ClientState().Kind)
	assert.Equal(t, uint32(11), c.ClientState().JoinID)
}

// A SetAddress matching the client's pending join id completes the join:
// address updates, state becomes Ready, and the frame is surfaced.
func TestReadTickSetAddressCompletesJoin(t *testing.T) {
	c := newClient(0x00, node.ClientState{Kind: node.NotReady})
	joinErr := c.SendJoin(12)
	require.Nil(t, joinErr)

	wrote, werr := c.WriteTick(make([]byte, 64))
	require.Nil(t, werr)
	assert.True(t, wrote)

	data := []byte{
		wire.SOF, 0x00, 0x01, 0x04, 0x05, 0x00,
		0x02, 12, 0x00, 0x00, 0x00,
		0x0e, wire.EOF,
	}

	got, err := c.ReadTick(data)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wire.SetAddress, got.Payload.Type)

	addr, ok := c.Address().Unicast()
	require.True(t, ok)
	assert.Equal(t, byte(0x02), addr)
	assert.Equal(t, node.Ready, c.ClientState().Kind)
}

// A master receiving Join assigns the next free address and queues a
// SetAddress reply targeting the joining client's id.
func TestMasterHandlesJoin(t *testing.T) {
	m := newMaster()

	f := frame.New(wire.UnicastAddr(wire.Master), wire.UnicastAddr(wire.Unassn), frame.JoinPayload(42))
	buf := make([]byte, f.MaxEncodedLen())
	n, encErr := f.Encode(buf)
	require.Nil(t, encErr)

	got, err := m.ReadTick(buf[:n])
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wire.Join, got.Payload.Type)

	out := make([]byte, 64)
	wrote, werr := m.WriteTick(out)
	require.Nil(t, werr)
	require.True(t, wrote)

	replyBody := unstuffFrame(t, out)
	reply, derr := frame.Decode(replyBody)
	require.Nil(t, derr)
	assert.Equal(t, wire.SetAddress, reply.Payload.Type)
	assert.Equal(t, wire.MinAddr, reply.Payload.SetAddr)
	assert.Equal(t, uint32(42), reply.Payload.SetAddrID)
	assert.Equal(t, byte(wire.Unassn), reply.To.AsByte())
}

// A second join assigns the next address in sequence.
func TestMasterAssignsSequentialAddresses(t *testing.T) {
	m := newMaster()
	for i, id := range []uint32{1, 2} {
		f := frame.New(wire.UnicastAddr(wire.Master), wire.UnicastAddr(wire.Unassn), frame.JoinPayload(id))
		buf := make([]byte, f.MaxEncodedLen())
		n, encErr := f.Encode(buf)
		require.Nil(t, encErr)
		_, err := m.ReadTick(buf[:n])
		require.Nil(t, err)

		out := make([]byte, 64)
		_, werr := m.WriteTick(out)
		require.Nil(t, werr)
		replyBody := unstuffFrame(t, out)
		reply, derr := frame.Decode(replyBody)
		require.Nil(t, derr)
		assert.Equal(t, wire.MinAddr+byte(i), reply.Payload.SetAddr)
	}
}

// A frame addressed to a different unicast address is silently ignored:
// no error, nothing surfaced, no state change.
func TestReadTickIgnoresFrameForAnotherAddress(t *testing.T) {
	c := newClient(0x02, node.ClientState{Kind: node.Ready})

	f := frame.New(wire.UnicastAddr(0x05), wire.UnicastAddr(wire.Master), frame.PingPayload())
	buf := make([]byte, f.MaxEncodedLen())
	n, encErr := f.Encode(buf)
	require.Nil(t, encErr)

	got, err := c.ReadTick(buf[:n])
	require.Nil(t, err)
	assert.Nil(t, got)

	wrote, werr := c.WriteTick(make([]byte, 64))
	require.Nil(t, werr)
	assert.False(t, wrote, "a frame for another address must not trigger a Pong reply")
}

// A client still NotReady cannot be sent Data/Set.
func TestReadTickNodeNotReadyForData(t *testing.T) {
	c := newClient(0x00, node.ClientState{Kind: node.NotReady})

	f := frame.New(wire.UnicastAddr(0x00), wire.UnicastAddr(wire.Master), frame.DataPayload([]byte{1, 2, 3}))
	buf := make([]byte, f.MaxEncodedLen())
	n, encErr := f.Encode(buf)
	require.Nil(t, encErr)

	_, err := c.ReadTick(buf[:n])
	require.NotNil(t, err)
	require.NotNil(t, err.Protocol)
	assert.Equal(t, frame.NodeNotReady, err.Protocol.Kind)
}

func unstuffFrame(t *testing.T, stuffed []byte) []byte {
	t.Helper()
	start := -1
	for i, b := range stuffed {
		if b == wire.SOF {
			start = i
			break
		}
	}
	require.NotEqual(t, -1, start)
	end := -1
	for i := start + 1; i < len(stuffed); i++ {
		if stuffed[i] == wire.EOF {
			end = i
			break
		}
	}
	require.NotEqual(t, -1, end)
	body := stuffed[start+1 : end]

	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] == wire.ESC {
			i++
			require.True(t, i < len(body))
			out = append(out, body[i]^wire.ESCXor)
			continue
		}
		out = append(out, body[i])
	}
	return out
}
