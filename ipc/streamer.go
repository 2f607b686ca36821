package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/tickflow/log"
)

// State is the parse state of a Streamer.
type State int

const (
	// StateParseHeader collects the header frame.
	StateParseHeader State = iota
	// StateParseCmd collects command frames.
	StateParseCmd
	// StateInvalid discards input after a protocol error.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateParseHeader:
		return "parse_header"
	case StateParseCmd:
		return "parse_cmd"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recovery selects how a Streamer leaves StateInvalid.
type Recovery int

const (
	// RecoverResync scans the discarded input for Magic and resumes command
	// parsing right after a complete match.
	RecoverResync Recovery = iota
	// RecoverNone keeps the streamer invalid until Reset is called.
	RecoverNone
)

func (r Recovery) String() string {
	switch r {
	case RecoverResync:
		return "resync"
	case RecoverNone:
		return "none"
	default:
		return fmt.Sprintf("recovery(%d)", int(r))
	}
}

// ParseRecovery parses a recovery policy name. The empty string maps to resync.
func ParseRecovery(s string) (Recovery, error) {
	switch strings.ToLower(s) {
	case "", "resync":
		return RecoverResync, nil
	case "none":
		return RecoverNone, nil
	default:
		return RecoverResync, fmt.Errorf("invalid recovery policy %q (must be resync or none)", s)
	}
}

// Handler applies decoded commands.
type Handler interface {
	Apply(cmd Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(cmd Command) error

// Apply calls f(cmd).
func (f HandlerFunc) Apply(cmd Command) error { return f(cmd) }

// StreamerConfig configures a Streamer.
type StreamerConfig struct {
	// Recovery is the policy for leaving StateInvalid. Default is RecoverResync.
	Recovery Recovery
	// Logger is an optional logger. If nil, no logging is emitted.
	Logger *log.Logger
}

// StreamStats counts streamer activity.
type StreamStats struct {
	State State `json:"state"`
	// Bytes is the number of bytes consumed.
	Bytes int64 `json:"bytes"`
	// Commands is the number of well-formed command frames.
	Commands int64 `json:"commands"`
	// Rejected is the number of commands the handler returned an error for.
	Rejected int64 `json:"rejected"`
	// ProtocolErrors counts bad headers and unknown opcodes.
	ProtocolErrors int64 `json:"protocol_errors"`
	// Resyncs counts recoveries from StateInvalid.
	Resyncs int64 `json:"resyncs"`
	// Discarded is the number of bytes dropped while invalid.
	Discarded int64 `json:"discarded"`
}

// Streamer decodes a graph stream one byte at a time and hands each command
// to a Handler. It keeps no reference to the bytes it is fed.
//
// Streamer implements io.Writer so a stream can be copied into it.
type Streamer struct {
	handler  Handler
	recovery Recovery
	logger   *log.Logger

	state State
	buf   [MagicSize]byte
	pos   int
	// frameStart is the stream offset of buf[0].
	frameStart int64
	// match is the length of the Magic prefix seen while resyncing.
	match int

	stats StreamStats
}

// NewStreamer creates a streamer in StateParseHeader.
func NewStreamer(h Handler, cfg StreamerConfig) *Streamer {
	return &Streamer{
		handler:  h,
		recovery: cfg.Recovery,
		logger:   cfg.Logger,
		state:    StateParseHeader,
	}
}

// State returns the current parse state.
func (s *Streamer) State() State { return s.state }

// Stats returns a snapshot of streamer counters.
func (s *Streamer) Stats() StreamStats {
	st := s.stats
	st.State = s.state
	return st
}

// Partial returns the number of bytes buffered for an incomplete frame.
func (s *Streamer) Partial() int {
	if s.state == StateInvalid {
		return 0
	}
	return s.pos
}

// Reset returns the streamer to StateParseHeader and drops any partial frame.
// Counters are kept.
func (s *Streamer) Reset() {
	s.state = StateParseHeader
	s.pos = 0
	s.match = 0
	s.frameStart = s.stats.Bytes
}

// Write feeds p to the streamer. All of p is always consumed; the returned
// error joins every protocol and command error raised by these bytes.
func (s *Streamer) Write(p []byte) (int, error) {
	var errs []error
	for _, b := range p {
		if err := s.ParseByte(b); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

// ParseByte consumes one byte.
//
// It returns a *ProtocolError when b completes a bad header or a frame with
// an unknown opcode, and a *CommandError when b completes a command the
// handler rejects. Otherwise it returns nil.
func (s *Streamer) ParseByte(b byte) error {
	offset := s.stats.Bytes
	s.stats.Bytes++

	switch s.state {
	case StateParseHeader:
		s.buf[s.pos] = b
		s.pos++
		if s.pos < MagicSize {
			return nil
		}
		header := s.buf
		s.pos = 0
		if bytes.Equal(header[:], Magic[:]) {
			s.state = StateParseCmd
			s.frameStart = offset + 1
			s.logger.Debug("graph stream header accepted", nil)
			return nil
		}
		err := &ProtocolError{
			Kind:   ProtocolBadMagic,
			Msg:    fmt.Sprintf("bad magic %q", header[:]),
			Offset: offset + 1 - MagicSize,
		}
		s.invalidate(err)
		// The rejected header may hold the start of a real one.
		for _, hb := range header {
			s.match = advanceMatch(s.match, hb)
		}
		s.resyncIfMatched(offset)
		return err

	case StateParseCmd:
		if s.pos == 0 {
			s.frameStart = offset
		}
		s.buf[s.pos] = b
		s.pos++
		if s.pos < CommandSize {
			return nil
		}
		var frame [CommandSize]byte
		copy(frame[:], s.buf[:CommandSize])
		s.pos = 0
		return s.dispatch(frame)

	case StateInvalid:
		s.stats.Discarded++
		if s.recovery != RecoverResync {
			return nil
		}
		s.match = advanceMatch(s.match, b)
		s.resyncIfMatched(offset)
		return nil
	}
	return nil
}

func (s *Streamer) dispatch(frame [CommandSize]byte) error {
	cmd, err := ParseCommand(frame)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			protoErr.Offset = s.frameStart
		}
		s.invalidate(err)
		// A header sent again mid-stream starts inside the rejected frame.
		for _, fb := range frame {
			s.match = advanceMatch(s.match, fb)
		}
		s.resyncIfMatched(s.frameStart + CommandSize - 1)
		return err
	}
	s.stats.Commands++

	s.logger.Debug("graph command", map[string]any{
		"offset":  s.frameStart,
		"command": cmd.String(),
	})
	if err := s.handler.Apply(cmd); err != nil {
		s.stats.Rejected++
		s.logger.Warn("graph command rejected", map[string]any{
			"offset":  s.frameStart,
			"command": cmd.String(),
			"error":   err.Error(),
		})
		return &CommandError{Command: cmd, Offset: s.frameStart, Err: err}
	}
	return nil
}

func (s *Streamer) invalidate(err error) {
	s.state = StateInvalid
	s.pos = 0
	s.match = 0
	s.stats.ProtocolErrors++
	s.logger.Warn("graph stream invalid", map[string]any{
		"error":    err.Error(),
		"recovery": s.recovery.String(),
	})
}

// resyncIfMatched resumes command parsing once a full Magic has been seen.
// offset is the stream offset of the last byte consumed.
func (s *Streamer) resyncIfMatched(offset int64) {
	if s.recovery != RecoverResync || s.match < MagicSize {
		return
	}
	s.state = StateParseCmd
	s.pos = 0
	s.match = 0
	s.frameStart = offset + 1
	s.stats.Resyncs++
	s.logger.Info("graph stream resynchronized", map[string]any{"offset": offset + 1})
}

// advanceMatch extends a partial Magic match by b. It returns the length of
// the longest suffix of the input seen so far that is a prefix of Magic.
func advanceMatch(match int, b byte) int {
	if match < MagicSize && Magic[match] == b {
		return match + 1
	}
	for k := min(match, MagicSize-1); k > 0; k-- {
		if Magic[k-1] == b && bytes.Equal(Magic[:k-1], Magic[match-k+1:match]) {
			return k
		}
	}
	return 0
}
