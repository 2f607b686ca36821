package ipc

import (
	"fmt"
	"io"

	"github.com/pithecene-io/tickflow/types"
)

// Encoder writes a graph stream.
type Encoder struct {
	w             io.Writer
	headerWritten bool
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteHeader writes the Magic header. Encode calls it on first use.
func (e *Encoder) WriteHeader() error {
	if _, err := e.w.Write(Magic[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	e.headerWritten = true
	return nil
}

// Encode writes one command frame, preceded by the header if none was written yet.
func (e *Encoder) Encode(cmd Command) error {
	frame, err := cmd.Frame()
	if err != nil {
		return err
	}
	if !e.headerWritten {
		if err := e.WriteHeader(); err != nil {
			return err
		}
	}
	if _, err := e.w.Write(frame[:]); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Op, err)
	}
	return nil
}

// Reset writes a Reset command.
func (e *Encoder) Reset() error {
	return e.Encode(ResetCommand())
}

// CreateComponent writes a CreateComponent command.
func (e *Encoder) CreateComponent(t types.ComponentType) error {
	return e.Encode(CreateCommand(t))
}

// ConnectNodes writes a ConnectNodes command.
func (e *Encoder) ConnectNodes(src types.NodeID, srcPort types.Port, target types.NodeID, targetPort types.Port) error {
	return e.Encode(ConnectCommand(src, srcPort, target, targetPort))
}

// AppendProgram appends a header and the frames of cmds to dst.
func AppendProgram(dst []byte, cmds []Command) ([]byte, error) {
	dst = append(dst, Magic[:]...)
	for i, cmd := range cmds {
		frame, err := cmd.Frame()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		dst = append(dst, frame[:]...)
	}
	return dst, nil
}
