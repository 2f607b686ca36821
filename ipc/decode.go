package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Decode reads a complete graph stream from r and returns its commands
// without applying them. Decoding is strict: the first protocol error is
// returned, and a stream that ends inside a frame is a ProtocolTruncated error.
func Decode(r io.Reader) ([]Command, error) {
	var cmds []Command
	s := NewStreamer(HandlerFunc(func(cmd Command) error {
		cmds = append(cmds, cmd)
		return nil
	}), StreamerConfig{Recovery: RecoverNone})

	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cmds, fmt.Errorf("read graph stream: %w", err)
		}
		if err := s.ParseByte(b); err != nil {
			return cmds, err
		}
	}

	switch {
	case s.State() == StateParseHeader && s.Partial() == 0 && s.Stats().Bytes == 0:
		return nil, &ProtocolError{Kind: ProtocolTruncated, Msg: "empty graph stream"}
	case s.Partial() > 0:
		return cmds, &ProtocolError{
			Kind:   ProtocolTruncated,
			Msg:    fmt.Sprintf("stream ends inside a frame (%d trailing bytes)", s.Partial()),
			Offset: s.Stats().Bytes - int64(s.Partial()),
		}
	}
	return cmds, nil
}
