// Package board abstracts the device I/O that components drive:
// digital output pins, a serial port and a millisecond clock.
//
// Sim is an in-memory board used by the CLI and tests.
package board

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Board is the device surface available to components.
// Implementations must be safe for concurrent use.
type Board interface {
	// DigitalWrite drives an output pin.
	DigitalWrite(pin int, high bool)
	// SerialWrite writes one byte to the serial port.
	SerialWrite(b byte)
	// SerialRead reads one pending serial byte, if any.
	SerialRead() (byte, bool)
	// Now returns the time elapsed since the board started.
	Now() time.Duration
}

// PinState is the observed state of one output pin.
type PinState struct {
	Pin         int  `json:"pin" yaml:"pin"`
	High        bool `json:"high" yaml:"high"`
	Transitions int  `json:"transitions" yaml:"transitions"`
}

// Sim is a simulated board. Its clock only moves when Advance or SetTime is called.
type Sim struct {
	mu        sync.Mutex
	pins      map[int]*PinState
	serialIn  []byte
	serialOut []byte
	now       time.Duration
}

// NewSim creates a simulated board at time zero with no pins written.
func NewSim() *Sim {
	return &Sim{pins: make(map[int]*PinState)}
}

// DigitalWrite implements Board.
func (s *Sim) DigitalWrite(pin int, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		s.pins[pin] = &PinState{Pin: pin, High: high}
		return
	}
	if p.High != high {
		p.Transitions++
	}
	p.High = high
}

// Pin returns the last value written to pin. The second result is false if
// the pin was never written.
func (s *Sim) Pin(pin int) (high bool, written bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return false, false
	}
	return p.High, true
}

// Pins returns the state of every written pin, ordered by pin number.
func (s *Sim) Pins() []PinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PinState, 0, len(s.pins))
	for _, pin := range slices.Sorted(maps.Keys(s.pins)) {
		out = append(out, *s.pins[pin])
	}
	return out
}

// SerialWrite implements Board.
func (s *Sim) SerialWrite(b byte) {
	s.mu.Lock()
	s.serialOut = append(s.serialOut, b)
	s.mu.Unlock()
}

// SerialRead implements Board.
func (s *Sim) SerialRead() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.serialIn) == 0 {
		return 0, false
	}
	b := s.serialIn[0]
	s.serialIn = s.serialIn[1:]
	return b, true
}

// Write queues p as serial input. It implements io.Writer.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.serialIn = append(s.serialIn, p...)
	s.mu.Unlock()
	return len(p), nil
}

// SerialOutput returns a copy of everything written to the serial port.
func (s *Sim) SerialOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.serialOut)
}

// Now implements Board.
func (s *Sim) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward by d.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	s.mu.Unlock()
}

// SetTime sets the clock. Moving it backwards is allowed.
func (s *Sim) SetTime(t time.Duration) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}
