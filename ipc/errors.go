package ipc

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies protocol errors.
type ProtocolErrorKind int

const (
	// ProtocolBadMagic indicates a header that is not Magic.
	ProtocolBadMagic ProtocolErrorKind = iota
	// ProtocolUnknownOpcode indicates a command frame with an opcode >= OpcodeCount.
	ProtocolUnknownOpcode
	// ProtocolTruncated indicates a stream that ended inside a frame.
	ProtocolTruncated
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolBadMagic:
		return "bad_magic"
	case ProtocolUnknownOpcode:
		return "unknown_opcode"
	case ProtocolTruncated:
		return "truncated"
	default:
		return fmt.Sprintf("protocol_kind(%d)", int(k))
	}
}

// ProtocolError reports a malformed graph stream.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Msg  string
	// Offset is the stream offset of the first byte of the offending frame.
	Offset int64
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at offset %d: %s", e.Offset, e.Msg)
}

// IsProtocolError returns true if err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// CommandError reports a well-formed command that the handler rejected,
// for example a connect to an unknown node or an unknown component type.
// The stream stays usable; the graph keeps its last valid state.
type CommandError struct {
	Command Command
	Offset  int64
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s at offset %d: %v", e.Command, e.Offset, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError returns true if err is or wraps a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}
