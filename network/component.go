package network

import (
	"fmt"

	"github.com/pithecene-io/tickflow/types"
)

// Connection is the wiring of one output port: the node and input port that
// receive packets sent on it. A connection is either fully set or fully unset;
// unset is (NoNode, NoPort).
type Connection struct {
	Target     types.NodeID `json:"target" yaml:"target"`
	TargetPort types.Port   `json:"target_port" yaml:"target_port"`
}

// Unconnected is the value of every output port after registration.
var Unconnected = Connection{Target: types.NoNode, TargetPort: types.NoPort}

// Connected returns true if sends on this port are delivered somewhere.
func (c Connection) Connected() bool {
	return c.Target.Valid() && c.TargetPort >= 0
}

// Component is a graph node.
//
// Implementations embed Base, which carries the node identity, the output
// connection table and the reference to the hosting Network, and implement
// Process with their variant behavior.
//
// Process contract:
//   - called synchronously by the scheduler, never concurrently
//   - port == types.ControlPort (-1) for Setup and Tick packets
//   - may call Send zero or more times
//   - must not block and must not call RunSetup or RunTick
type Component interface {
	Process(pkt types.Packet, port types.Port)

	base() *Base
}

// Base holds the engine-managed state of a component. Embed it by value:
//
//	type Forward struct {
//		network.Base
//	}
//
// The zero value is a detached component.
type Base struct {
	net   *Network
	id    types.NodeID
	typ   types.ComponentType
	conns []Connection
	// dropped counts packets Emit could not send.
	dropped int64
}

func (b *Base) base() *Base { return b }

// WithType stamps the component type on c and returns c.
// Factories call it once at creation; the type is fixed for the component's lifetime.
func WithType(c Component, t types.ComponentType) Component {
	c.base().typ = t
	return c
}

// NodeID returns the id assigned at registration, or types.NoNode when detached.
func (b *Base) NodeID() types.NodeID {
	if b.net == nil {
		return types.NoNode
	}
	return b.id
}

// ComponentType returns the type stamped by the factory.
func (b *Base) ComponentType() types.ComponentType { return b.typ }

// Attached returns true while the component is registered with a Network.
func (b *Base) Attached() bool { return b.net != nil }

// Connection returns the wiring of outPort.
// The second result is false if outPort is outside the port table.
func (b *Base) Connection(outPort types.Port) (Connection, bool) {
	if outPort < 0 || int(outPort) >= len(b.conns) {
		return Unconnected, false
	}
	return b.conns[outPort], true
}

// Send forwards pkt to whatever is connected to outPort.
//
// Sending on an unconnected port is a silent no-op: nothing is enqueued and no
// hook fires. A full queue returns an error wrapping ErrQueueOverflow and the
// packet is not delivered; the component decides whether to drop or retry.
func (b *Base) Send(pkt types.Packet, outPort types.Port) error {
	if b.net == nil {
		return ErrDetached
	}
	if outPort < 0 || int(outPort) >= len(b.conns) {
		return fmt.Errorf("%w: output port %d (max %d)", ErrPortOutOfRange, outPort, len(b.conns)-1)
	}
	conn := b.conns[outPort]
	if !conn.Connected() {
		b.net.stats.UnconnectedSends++
		return nil
	}
	return b.net.SendMessage(conn.Target, conn.TargetPort, pkt, b.id, outPort)
}

// Emit is Send with a drop policy: a packet that cannot be sent is counted
// against the component and logged, and Emit returns false. Components that
// do not retry use Emit instead of discarding the Send error.
func (b *Base) Emit(pkt types.Packet, outPort types.Port) bool {
	err := b.Send(pkt, outPort)
	if err == nil {
		return true
	}
	b.dropped++
	if b.net != nil {
		b.net.logger.Debug("packet dropped", map[string]any{
			"node":     int(b.id),
			"type":     int(b.typ),
			"out_port": int(outPort),
			"dropped":  b.dropped,
			"error":    err.Error(),
		})
	}
	return false
}

// Dropped returns the number of packets Emit has dropped since registration.
func (b *Base) Dropped() int64 { return b.dropped }

// connect overwrites the connection of outPort. Range checks are done by the Network.
func (b *Base) connect(outPort types.Port, target types.NodeID, targetPort types.Port) {
	b.conns[outPort] = Connection{Target: target, TargetPort: targetPort}
}

// setNetwork binds the component to net under id and clears all connections.
func (b *Base) setNetwork(net *Network, id types.NodeID) {
	b.net = net
	b.id = id
	b.dropped = 0
	if len(b.conns) != net.cfg.MaxPorts {
		b.conns = make([]Connection, net.cfg.MaxPorts)
	}
	for i := range b.conns {
		b.conns[i] = Unconnected
	}
}

// detach drops the reference to the hosting Network.
func (b *Base) detach() {
	b.net = nil
	b.id = types.NoNode
	for i := range b.conns {
		b.conns[i] = Unconnected
	}
}
