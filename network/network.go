// Package network implements the dataflow engine: a fixed-size node table,
// a bounded ring of in-flight messages, and a single-threaded tick scheduler.
//
// The engine is driven by its owner:
//
//	net, _ := network.New(network.DefaultConfig())
//	id, _ := net.AddNode(c)
//	_ = net.RunSetup()
//	for {
//		_ = net.RunTick()
//	}
//
// Each RunTick is one generation. It delivers the messages queued when the tick
// started, in FIFO order, then broadcasts a Tick control packet to every node
// in ascending id order. Messages sent during delivery wait for the next tick.
//
// A Network is not safe for concurrent use. All calls, including those made
// from Process, happen on the goroutine that drives the scheduler.
package network

import (
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/tickflow/log"
	"github.com/pithecene-io/tickflow/types"
)

// Capacity limits imposed by the single-byte wire encoding.
const (
	MaxNodesLimit = types.MaxWireValue + 1
	MaxPortsLimit = types.MaxWireValue + 1
)

// Config configures a Network.
type Config struct {
	// MaxNodes is the size of the node table. Zero means 20.
	MaxNodes int
	// MaxPorts is the number of output ports per component. Zero means 10.
	MaxPorts int
	// QueueCapacity is the number of messages that can be in flight. Zero means 50.
	QueueCapacity int
	// PanicOnFault panics on delivery faults instead of reporting them.
	PanicOnFault bool
	// Logger receives mutation and fault logs, and a message trace at debug level.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultConfig returns the default engine sizes.
func DefaultConfig() Config {
	return Config{
		MaxNodes:      20,
		MaxPorts:      10,
		QueueCapacity: 50,
	}
}

// Network owns the node table and the message queue.
type Network struct {
	cfg    Config
	logger *log.Logger
	hooks  Hooks

	nodes    []Component
	count    int
	queue    *ring
	stats    Stats
	setups   int // nodes [0, setups) have received Setup
	setupRun bool

	scheduling bool
}

// New creates a Network. Zero config fields take their defaults.
func New(cfg Config) (*Network, error) {
	def := DefaultConfig()
	if cfg.MaxNodes == 0 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.MaxPorts == 0 {
		cfg.MaxPorts = def.MaxPorts
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.MaxNodes < 1 || cfg.MaxNodes > MaxNodesLimit {
		return nil, fmt.Errorf("%w: max nodes %d not in [1, %d]", ErrInvalidConfig, cfg.MaxNodes, MaxNodesLimit)
	}
	if cfg.MaxPorts < 1 || cfg.MaxPorts > MaxPortsLimit {
		return nil, fmt.Errorf("%w: max ports %d not in [1, %d]", ErrInvalidConfig, cfg.MaxPorts, MaxPortsLimit)
	}
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("%w: queue capacity %d must be positive", ErrInvalidConfig, cfg.QueueCapacity)
	}

	return &Network{
		cfg:    cfg,
		logger: cfg.Logger,
		nodes:  make([]Component, cfg.MaxNodes),
		queue:  newRing(cfg.QueueCapacity),
	}, nil
}

// SetHooks installs the instrumentation hooks, replacing any previous set.
// Use ChainHooks to install several.
func (n *Network) SetHooks(h Hooks) {
	n.hooks = h
}

// Config returns the effective configuration.
func (n *Network) Config() Config { return n.cfg }

// AddNode registers c, assigns it the next node id and returns that id.
func (n *Network) AddNode(c Component) (types.NodeID, error) {
	if c == nil {
		return types.NoNode, newMutationError(MutationInvalidComponent, "add_node", "nil component")
	}
	b := c.base()
	if b.net != nil {
		return types.NoNode, newMutationError(MutationInvalidComponent, "add_node",
			"component already registered as node %s", b.id)
	}
	if n.count >= len(n.nodes) {
		n.logger.Warn("node table full", map[string]any{
			"max_nodes":      len(n.nodes),
			"component_type": int(b.typ),
		})
		return types.NoNode, newMutationError(MutationTableFull, "add_node",
			"all %d slots in use", len(n.nodes))
	}

	id := types.NodeID(n.count)
	n.nodes[id] = c
	n.count++
	b.setNetwork(n, id)

	n.logger.Debug("node added", map[string]any{
		"node_id":        int(id),
		"component_type": int(b.typ),
	})
	if n.hooks.OnAddNode != nil {
		n.hooks.OnAddNode(c)
	}
	return id, nil
}

// Connect wires output srcPort of node srcID to input targetPort of node targetID.
// An existing connection on srcPort is replaced.
func (n *Network) Connect(srcID types.NodeID, srcPort types.Port, targetID types.NodeID, targetPort types.Port) error {
	src, err := n.lookup(srcID, "source")
	if err != nil {
		return err
	}
	target, err := n.lookup(targetID, "target")
	if err != nil {
		return err
	}
	return n.connect(src, srcPort, target, targetPort)
}

// ConnectComponents is Connect addressed by component instead of id.
// Both components must be registered with n.
func (n *Network) ConnectComponents(src Component, srcPort types.Port, target Component, targetPort types.Port) error {
	for _, c := range []Component{src, target} {
		if c == nil {
			return newMutationError(MutationInvalidComponent, "connect", "nil component")
		}
		if b := c.base(); b.net != n {
			return newMutationError(MutationInvalidComponent, "connect",
				"component is not registered with this network")
		}
	}
	return n.connect(src, srcPort, target, targetPort)
}

func (n *Network) lookup(id types.NodeID, role string) (Component, error) {
	if !id.Valid() || int(id) >= n.count {
		return nil, newMutationError(MutationUnknownNode, "connect",
			"%s node %s not registered (%d nodes)", role, id, n.count)
	}
	return n.nodes[id], nil
}

func (n *Network) connect(src Component, srcPort types.Port, target Component, targetPort types.Port) error {
	if srcPort < 0 || int(srcPort) >= n.cfg.MaxPorts {
		return newMutationError(MutationPortOutOfRange, "connect",
			"source port %d not in [0, %d)", srcPort, n.cfg.MaxPorts)
	}
	if targetPort < 0 || int(targetPort) >= n.cfg.MaxPorts {
		return newMutationError(MutationPortOutOfRange, "connect",
			"target port %d not in [0, %d)", targetPort, n.cfg.MaxPorts)
	}

	sb, tb := src.base(), target.base()
	sb.connect(srcPort, tb.id, targetPort)
	n.stats.Connects++

	n.logger.Debug("nodes connected", map[string]any{
		"src":         int(sb.id),
		"src_port":    int(srcPort),
		"target":      int(tb.id),
		"target_port": int(targetPort),
	})
	if n.hooks.OnConnect != nil {
		n.hooks.OnConnect(src, srcPort, target, targetPort)
	}
	return nil
}

// SendMessage enqueues pkt for input targetPort of node target.
//
// sender and senderPort identify the producer for hooks and errors;
// pass types.NoNode to inject a packet from outside the graph.
// A target that is not registered, or a port outside [0, MaxPorts), is
// rejected with a *GraphMutationError. When the queue is full the message is
// rejected with a *QueueOverflowError. Either way the queue is left unchanged.
func (n *Network) SendMessage(target types.NodeID, targetPort types.Port, pkt types.Packet, sender types.NodeID, senderPort types.Port) error {
	if !target.Valid() || int(target) >= n.count {
		return newMutationError(MutationUnknownNode, "send",
			"target node %s not registered (%d nodes)", target, n.count)
	}
	if targetPort < 0 || int(targetPort) >= n.cfg.MaxPorts {
		return newMutationError(MutationPortOutOfRange, "send",
			"target port %d not in [0, %d)", targetPort, n.cfg.MaxPorts)
	}
	msg := Message{Target: target, TargetPort: targetPort, Packet: pkt}

	idx, ok := n.queue.push(msg)
	if !ok {
		n.stats.Overflows++
		overflow := &QueueOverflowError{
			Message:    msg,
			Sender:     sender,
			SenderPort: senderPort,
			Capacity:   n.queue.capacity(),
		}
		n.logger.Warn("message queue full", map[string]any{
			"capacity":    overflow.Capacity,
			"sender":      int(sender),
			"sender_port": int(senderPort),
			"target":      int(target),
			"target_port": int(targetPort),
		})
		return overflow
	}
	n.stats.Sent++

	if n.logger.Enabled(zapcore.DebugLevel) {
		n.logger.Debug("message sent", map[string]any{
			"index":       idx,
			"sender":      int(sender),
			"sender_port": int(senderPort),
			"target":      int(target),
			"target_port": int(targetPort),
			"packet":      pkt.String(),
		})
	}
	if n.hooks.OnSend != nil {
		var from Component
		if sender.Valid() && int(sender) < n.count {
			from = n.nodes[sender]
		}
		n.hooks.OnSend(idx, msg, from, senderPort)
	}
	return nil
}

// RunSetup delivers a Setup control packet to every node that has not received
// one yet, in ascending id order. Each node receives Setup exactly once per
// graph generation.
func (n *Network) RunSetup() error {
	if n.scheduling {
		return ErrReentrantSchedule
	}
	n.scheduling = true
	defer func() { n.scheduling = false }()

	// Snapshot the bound so the pass is fixed even if Process misbehaves.
	end := n.count
	for i := n.setups; i < end; i++ {
		n.nodes[i].Process(types.SetupPacket, types.ControlPort)
	}
	n.setups = end
	n.setupRun = true
	n.stats.Setups++
	return nil
}

// SetupDone returns true when every registered node has received Setup.
func (n *Network) SetupDone() bool {
	return n.setupRun && n.setups == n.count
}

// RunTick runs one scheduling generation: drain, then broadcast.
//
// Delivery faults do not stop the tick; they are returned joined once the
// generation completes.
func (n *Network) RunTick() error {
	if n.scheduling {
		return ErrReentrantSchedule
	}
	n.scheduling = true
	defer func() { n.scheduling = false }()

	var faults []error

	// Drain phase: deliver the snapshot [read, write). The occupied range is
	// split into two linear runs when it wraps past the end of the buffer.
	read, write := n.queue.read, n.queue.write
	if read <= write {
		faults = n.deliverRange(read, write, faults)
	} else {
		faults = n.deliverRange(read, len(n.queue.slots), faults)
		faults = n.deliverRange(0, write, faults)
	}
	n.queue.read = write

	// Broadcast phase.
	end := n.count
	for i := 0; i < end; i++ {
		n.nodes[i].Process(types.TickPacket, types.ControlPort)
	}

	n.stats.Ticks++
	return errors.Join(faults...)
}

func (n *Network) deliverRange(first, last int, faults []error) []error {
	for idx := first; idx < last; idx++ {
		msg := n.queue.take(idx)

		if !msg.Target.Valid() || int(msg.Target) >= n.count || n.nodes[msg.Target] == nil {
			fault := &DeliveryFault{Index: idx, Message: msg}
			n.stats.Faults++
			n.logger.Error("delivery fault", map[string]any{
				"index":       idx,
				"target":      int(msg.Target),
				"target_port": int(msg.TargetPort),
				"packet":      msg.Packet.String(),
			})
			if n.cfg.PanicOnFault {
				panic(fault)
			}
			faults = append(faults, fault)
			continue
		}

		if n.logger.Enabled(zapcore.DebugLevel) {
			n.logger.Debug("message delivered", map[string]any{
				"index":       idx,
				"target":      int(msg.Target),
				"target_port": int(msg.TargetPort),
				"packet":      msg.Packet.String(),
			})
		}
		n.stats.Delivered++
		n.nodes[msg.Target].Process(msg.Packet, msg.TargetPort)
		if n.hooks.OnDeliver != nil {
			n.hooks.OnDeliver(idx, msg)
		}
	}
	return faults
}

// Reset ends the current graph generation. All nodes are detached and
// dropped, pending messages are discarded, node ids restart at 0 and setup
// is pending again. Hooks and cumulative counters are kept.
func (n *Network) Reset() error {
	if n.scheduling {
		return ErrReentrantSchedule
	}
	for i := 0; i < n.count; i++ {
		n.nodes[i].base().detach()
		n.nodes[i] = nil
	}
	dropped := n.queue.len()
	n.queue.clear()
	n.queue.peak = 0
	n.count = 0
	n.setups = 0
	n.setupRun = false
	n.stats.Resets++

	n.logger.Info("network reset", map[string]any{"dropped_messages": dropped})
	return nil
}

// Len returns the number of registered nodes.
func (n *Network) Len() int { return n.count }

// Capacity returns the number of messages the queue can hold.
func (n *Network) Capacity() int { return n.queue.capacity() }

// Node returns the component registered under id.
func (n *Network) Node(id types.NodeID) (Component, bool) {
	if !id.Valid() || int(id) >= n.count {
		return nil, false
	}
	return n.nodes[id], true
}

// Nodes returns the registered components in id order.
func (n *Network) Nodes() []Component {
	out := make([]Component, n.count)
	copy(out, n.nodes[:n.count])
	return out
}

// Connections returns a copy of the output table of node id.
func (n *Network) Connections(id types.NodeID) ([]Connection, bool) {
	c, ok := n.Node(id)
	if !ok {
		return nil, false
	}
	conns := c.base().conns
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out, true
}

// Pending returns the queued messages in delivery order.
func (n *Network) Pending() []Message {
	return n.queue.pending()
}

// Stats returns a snapshot of the engine counters.
func (n *Network) Stats() Stats {
	s := n.stats
	s.Nodes = n.count
	s.Pending = n.queue.len()
	s.PeakPending = n.queue.peak
	s.Capacity = n.queue.capacity()
	return s
}
