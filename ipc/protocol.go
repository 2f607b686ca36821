// Package ipc implements the graph wire protocol.
//
// A graph stream is a 6-byte header followed by fixed-size command frames:
//
//	header:  'u' 'C' '/' 'F' 'l' 'o'
//	command: opcode arg1 arg2 arg3 arg4
//
// Every field is a single byte. Unused argument bytes are padding and are
// written as zero.
//
//	Reset            0  -  -  -  -
//	CreateComponent  1  type  -  -  -
//	ConnectNodes     2  src  target  srcPort  targetPort
//
// Opcodes at or above OpcodeCount are invalid.
package ipc

import (
	"fmt"

	"github.com/pithecene-io/tickflow/types"
)

// Frame size constants.
const (
	// MagicSize is the size of the header frame.
	MagicSize = 6
	// CommandSize is the size of every command frame, opcode included.
	CommandSize = 5
)

// Magic is the header that opens every graph stream.
var Magic = [MagicSize]byte{'u', 'C', '/', 'F', 'l', 'o'}

// Opcode identifies a command frame.
type Opcode uint8

const (
	// OpReset clears the graph.
	OpReset Opcode = iota
	// OpCreateComponent creates a component and registers it as the next node.
	OpCreateComponent
	// OpConnectNodes wires an output port to an input port.
	OpConnectNodes
	// OpcodeCount is the first invalid opcode.
	OpcodeCount
)

func (o Opcode) String() string {
	switch o {
	case OpReset:
		return "reset"
	case OpCreateComponent:
		return "create_component"
	case OpConnectNodes:
		return "connect_nodes"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// Valid returns true for opcodes below OpcodeCount.
func (o Opcode) Valid() bool { return o < OpcodeCount }

// Command is a decoded command frame. Only the fields used by Op are meaningful.
type Command struct {
	Op Opcode `json:"op" yaml:"op"`

	// CreateComponent
	Type types.ComponentType `json:"type,omitempty" yaml:"type,omitempty"`

	// ConnectNodes
	Src        types.NodeID `json:"src,omitempty" yaml:"src,omitempty"`
	SrcPort    types.Port   `json:"src_port,omitempty" yaml:"src_port,omitempty"`
	Target     types.NodeID `json:"target,omitempty" yaml:"target,omitempty"`
	TargetPort types.Port   `json:"target_port,omitempty" yaml:"target_port,omitempty"`
}

// ResetCommand returns a Reset command.
func ResetCommand() Command { return Command{Op: OpReset} }

// CreateCommand returns a CreateComponent command for component type t.
func CreateCommand(t types.ComponentType) Command {
	return Command{Op: OpCreateComponent, Type: t}
}

// ConnectCommand returns a ConnectNodes command.
func ConnectCommand(src types.NodeID, srcPort types.Port, target types.NodeID, targetPort types.Port) Command {
	return Command{Op: OpConnectNodes, Src: src, SrcPort: srcPort, Target: target, TargetPort: targetPort}
}

func (c Command) String() string {
	switch c.Op {
	case OpReset:
		return "reset"
	case OpCreateComponent:
		return fmt.Sprintf("create_component(type=%d)", c.Type)
	case OpConnectNodes:
		return fmt.Sprintf("connect_nodes(%d.%d -> %d.%d)", c.Src, c.SrcPort, c.Target, c.TargetPort)
	default:
		return c.Op.String()
	}
}

// ParseCommand decodes a command frame.
// Returns a *ProtocolError with Kind ProtocolUnknownOpcode for invalid opcodes.
func ParseCommand(frame [CommandSize]byte) (Command, error) {
	op := Opcode(frame[0])
	switch op {
	case OpReset:
		return ResetCommand(), nil
	case OpCreateComponent:
		return CreateCommand(types.ComponentType(frame[1])), nil
	case OpConnectNodes:
		// Wire order is (src, target, srcPort, targetPort).
		return ConnectCommand(
			types.NodeID(frame[1]), types.Port(frame[3]),
			types.NodeID(frame[2]), types.Port(frame[4]),
		), nil
	default:
		return Command{}, &ProtocolError{
			Kind: ProtocolUnknownOpcode,
			Msg:  fmt.Sprintf("unknown opcode %d (max %d)", frame[0], OpcodeCount-1),
		}
	}
}

// Frame encodes c as a command frame.
// Fails if an argument does not fit in a byte or the opcode is invalid.
func (c Command) Frame() ([CommandSize]byte, error) {
	var frame [CommandSize]byte
	if !c.Op.Valid() {
		return frame, fmt.Errorf("encode %s: invalid opcode", c.Op)
	}
	frame[0] = byte(c.Op)

	switch c.Op {
	case OpCreateComponent:
		frame[1] = byte(c.Type)
	case OpConnectNodes:
		fields := []struct {
			name string
			v    int
			at   int
		}{
			{"src", int(c.Src), 1},
			{"target", int(c.Target), 2},
			{"src port", int(c.SrcPort), 3},
			{"target port", int(c.TargetPort), 4},
		}
		for _, f := range fields {
			if f.v < 0 || f.v > types.MaxWireValue {
				return frame, fmt.Errorf("encode %s: %s %d not in [0, %d]", c.Op, f.name, f.v, types.MaxWireValue)
			}
			frame[f.at] = byte(f.v)
		}
	}
	return frame, nil
}
