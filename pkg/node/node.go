// Package node implements the IMCP node engine: the master/client role
// state machine that sits on top of pkg/parser and decides what an
// incoming frame means and what, if anything, goes out in reply.
package node

import (
	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/parser"
	"github.com/usbharu/imcp/pkg/wire"
)

// ClientStateKind is the client-role sub-state: unassigned, mid-join, or
// operating normally with an assigned address.
type ClientStateKind int

const (
	NotReady ClientStateKind = iota
	Joining
	Ready
)

// ClientState is the client role's state. JoinID is only meaningful while
// Kind == Joining.
type ClientState struct {
	Kind   ClientStateKind
	JoinID uint32
}

// Role distinguishes the bus master, which assigns addresses, from a
// client, which requests one.
type Role int

const (
	RoleMaster Role = iota
	RoleClient
)

// pendingFrame is the single outstanding frame a node is waiting to see
// acknowledged. Only one may be in flight at a time; WriteTick re-sends it
// every tick until a matching Ack (or role-specific equivalent, like
// SetAddress for a join) clears it.
type pendingFrame struct {
	f frame.Frame
}

// Node is either a master or a client node in one IMCP bus. It owns no
// transport; ReadTick/WriteTick take and return plain byte buffers so the
// caller (pkg/link, or a test) controls where bytes actually go.
type Node struct {
	role    Role
	address wire.Address

	// Master-only.
	nextAddress byte

	// Client-only.
	clientState ClientState

	pending *pendingFrame
	reply   *frame.Frame

	p *parser.FrameParser
}

// NewMaster builds a master node. The master always owns wire.Master
// (0x01) and assigns client addresses starting at wire.MinAddr.
func NewMaster(rxBuffer, frameBuffer []byte) *Node {
	return &Node{
		role:        RoleMaster,
		address:     wire.UnicastAddr(wire.Master),
		nextAddress: wire.MinAddr,
		p:           parser.New(rxBuffer, frameBuffer),
	}
}

// NewClient builds a client node. Addr is the node's current address;
// pass wire.UnicastAddr(wire.Unassn) for a node that has not yet joined.
func NewClient(addr wire.Address, state ClientState, rxBuffer, frameBuffer []byte) *Node {
	return &Node{
		role:        RoleClient,
		address:     addr,
		clientState: state,
		p:           parser.New(rxBuffer, frameBuffer),
	}
}

// Address reports the node's current bus address.
func (n *Node) Address() wire.Address { return n.address }

// ClientState reports the client role's join state. Only meaningful when
// the node is a client.
func (n *Node) ClientState() ClientState { return n.clientState }

// SendJoin queues a Join(id) frame addressed to the master, moving a
// NotReady client into Joining(id). WriteTick must be called to actually
// put the frame on the wire.
func (n *Node) SendJoin(id uint32) *ImcpError {
	if n.role != RoleClient {
		return protocolErr(&frame.ProtocolError{Kind: frame.InvalidFrameType, FrameType: wire.Join})
	}
	n.clientState = ClientState{Kind: Joining, JoinID: id}
	n.pending = &pendingFrame{f: frame.New(wire.UnicastAddr(wire.Master), n.address, frame.JoinPayload(id))}
	return nil
}

// Send queues an arbitrary outbound frame (for example a master pushing a
// Set command to a client) to go out on the next WriteTick. It reports
// false, queuing nothing, if a reply is already waiting to be sent.
func (n *Node) Send(f frame.Frame) bool {
	if n.reply != nil {
		return false
	}
	n.reply = &f
	return true
}

// WriteTick encodes the next outbound frame, if any, into buf: the
// single pending (retransmitted-until-acked) frame takes priority over an
// immediate reply generated while handling the last ReadTick. It reports
// wrote=false when there is nothing to send.
func (n *Node) WriteTick(buf []byte) (wrote bool, err *ImcpError) {
	var f frame.Frame
	switch {
	case n.pending != nil:
		f = n.pending.f
	case n.reply != nil:
		f = *n.reply
		n.reply = nil
	default:
		return false, nil
	}

	if _, encErr := f.Encode(buf); encErr != nil {
		return false, encodeErr(encErr)
	}
	return true, nil
}

// ReadTick feeds data into the node's streaming parser and processes at
// most one completed frame per call, leaving any further frames already
// buffered in the parser for the next call. It returns the frame worth
// surfacing to the caller (nil if the frame processed was purely
// internal, e.g. a SetAddress meant for a different joining client, or if
// no frame was ready), or a protocol/decode error.
func (n *Node) ReadTick(data []byte) (*frame.Frame, *ImcpError) {
	if _, werr := n.p.WriteData(data); werr != nil {
		return nil, decodeErr(werr)
	}

	f, derr := n.p.NextFrame()
	if derr != nil {
		return nil, decodeErr(derr)
	}
	if f == nil {
		return nil, nil
	}

	visible, perr := n.handle(*f)
	if perr != nil {
		return nil, protocolErr(perr)
	}
	if !visible {
		return nil, nil
	}
	return f, nil
}

// handle applies one decoded frame to node state and reports whether the
// frame should be surfaced to the caller. Frames addressed to a specific
// unicast address that isn't this node's own are silently ignored
// (spec.md §4.3 case 3), never reaching the per-type dispatch below.
func (n *Node) handle(f frame.Frame) (bool, *frame.ProtocolError) {
	if !f.To.IsBroadcast() && f.To.AsByte() != n.address.AsByte() {
		return false, nil
	}

	switch f.Payload.Type {
	case wire.Ack:
		return n.handleAck(f)
	case wire.SetAddress:
		return n.handleSetAddress(f)
	case wire.Join:
		return n.handleJoin(f)
	case wire.Ping:
		n.reply = replyTo(f, frame.PongPayload())
		return true, nil
	case wire.Pong:
		return true, nil
	case wire.Data, wire.Set:
		if n.role == RoleClient && n.clientState.Kind != Ready {
			return false, &frame.ProtocolError{Kind: frame.NodeNotReady}
		}
		return true, nil
	default:
		return false, &frame.ProtocolError{Kind: frame.InvalidFrameType, FrameType: f.Payload.Type}
	}
}

func (n *Node) handleAck(f frame.Frame) (bool, *frame.ProtocolError) {
	if n.pending == nil && f.Payload.AckAddr != wire.Bcast {
		return false, &frame.ProtocolError{Kind: frame.UnexpectedAck}
	}
	n.pending = nil
	return true, nil
}

func (n *Node) handleSetAddress(f frame.Frame) (bool, *frame.ProtocolError) {
	if n.role != RoleClient {
		return false, &frame.ProtocolError{Kind: frame.InvalidFrameType, FrameType: wire.SetAddress}
	}
	if n.clientState.Kind != Joining || f.Payload.SetAddrID != n.clientState.JoinID {
		return false, nil
	}
	n.address = wire.UnicastAddr(f.Payload.SetAddr)
	n.clientState = ClientState{Kind: Ready}
	n.pending = nil
	return true, nil
}

func (n *Node) handleJoin(f frame.Frame) (bool, *frame.ProtocolError) {
	if n.role != RoleMaster {
		return false, &frame.ProtocolError{Kind: frame.InvalidFrameType, FrameType: wire.Join}
	}
	assigned := n.nextAddress
	n.nextAddress++
	r := frame.New(wire.UnicastAddr(wire.Unassn), n.address, frame.SetAddressPayload(assigned, f.Payload.JoinID))
	n.reply = &r
	return true, nil
}

// replyTo builds a frame back to the sender of received (swapping
// to/from) carrying payload.
func replyTo(received frame.Frame, payload frame.Payload) *frame.Frame {
	r := frame.New(received.From, received.To, payload)
	return &r
}
