package network

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/tickflow/types"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// use errors.Is without caring about the concrete type.
var (
	// ErrQueueOverflow is returned when the message queue has no free slot.
	ErrQueueOverflow = errors.New("message queue full")
	// ErrTableFull is returned when the node table has no free slot.
	ErrTableFull = errors.New("node table full")
	// ErrUnknownNode is returned when a node id does not resolve to a registered node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrPortOutOfRange is returned for ports outside [0, MaxPorts).
	ErrPortOutOfRange = errors.New("port out of range")
	// ErrInvalidComponent is returned for nil, foreign, or already registered components.
	ErrInvalidComponent = errors.New("invalid component")
	// ErrDetached is returned when a component that is not registered tries to send.
	ErrDetached = errors.New("component is not attached to a network")
	// ErrReentrantSchedule is returned when scheduling is triggered from inside Process.
	ErrReentrantSchedule = errors.New("scheduler reentered from component")
	// ErrInvalidConfig is returned when Config is out of range.
	ErrInvalidConfig = errors.New("invalid network config")
)

// MutationErrorKind classifies graph mutation errors.
type MutationErrorKind int

const (
	// MutationTableFull indicates AddNode on a full node table.
	MutationTableFull MutationErrorKind = iota
	// MutationUnknownNode indicates a node id that is not registered.
	MutationUnknownNode
	// MutationPortOutOfRange indicates a port outside the port table.
	MutationPortOutOfRange
	// MutationInvalidComponent indicates a nil, foreign, or duplicate component.
	MutationInvalidComponent
)

func (k MutationErrorKind) String() string {
	switch k {
	case MutationTableFull:
		return "table_full"
	case MutationUnknownNode:
		return "unknown_node"
	case MutationPortOutOfRange:
		return "port_out_of_range"
	case MutationInvalidComponent:
		return "invalid_component"
	default:
		return fmt.Sprintf("mutation_kind(%d)", int(k))
	}
}

func (k MutationErrorKind) sentinel() error {
	switch k {
	case MutationTableFull:
		return ErrTableFull
	case MutationUnknownNode:
		return ErrUnknownNode
	case MutationPortOutOfRange:
		return ErrPortOutOfRange
	default:
		return ErrInvalidComponent
	}
}

// GraphMutationError reports a rejected AddNode, Connect or SendMessage.
// The graph and the queue are left in their previous state.
type GraphMutationError struct {
	Kind MutationErrorKind
	// Op is the rejected operation: "add_node", "connect" or "send".
	Op  string
	Msg string
}

func newMutationError(kind MutationErrorKind, op, format string, args ...any) *GraphMutationError {
	return &GraphMutationError{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *GraphMutationError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind.sentinel(), e.Msg)
}

func (e *GraphMutationError) Unwrap() error {
	return e.Kind.sentinel()
}

// IsGraphMutationError returns true if err is a graph mutation error.
func IsGraphMutationError(err error) bool {
	var mutErr *GraphMutationError
	return errors.As(err, &mutErr)
}

// QueueOverflowError reports a message that was not enqueued because the queue was full.
type QueueOverflowError struct {
	Message    Message
	Sender     types.NodeID
	SenderPort types.Port
	Capacity   int
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("%v (capacity %d): rejected %s from node %s port %d to node %s port %d",
		ErrQueueOverflow, e.Capacity, e.Message.Packet, e.Sender, e.SenderPort,
		e.Message.Target, e.Message.TargetPort)
}

func (e *QueueOverflowError) Unwrap() error {
	return ErrQueueOverflow
}

// DeliveryFault reports a queued message whose target does not resolve to a
// registered node. It indicates a bug in the engine, never a user error.
type DeliveryFault struct {
	// Index is the queue slot of the message.
	Index   int
	Message Message
}

func (f *DeliveryFault) Error() string {
	return fmt.Sprintf("delivery fault: queue slot %d targets absent node %s (port %d, %s)",
		f.Index, f.Message.Target, f.Message.TargetPort, f.Message.Packet)
}

// IsDeliveryFault returns true if err is or wraps a DeliveryFault.
func IsDeliveryFault(err error) bool {
	var fault *DeliveryFault
	return errors.As(err, &fault)
}
