package components

import (
	"time"

	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// Wire type ids of the standard library.
const (
	TypeForward       types.ComponentType = 1
	TypeSerialOut     types.ComponentType = 2
	TypeToggleBoolean types.ComponentType = 3
	TypeTimer         types.ComponentType = 4
	TypeDigitalWrite  types.ComponentType = 5
	TypeSerialIn      types.ComponentType = 6
	TypeInvertBoolean types.ComponentType = 7
	TypeCounter       types.ComponentType = 8
)

// Defaults.
const (
	DefaultTimerInterval = 300 * time.Millisecond
	// TimerUnit is the interval step set by a Character on the Timer INTERVAL port.
	TimerUnit  = 10 * time.Millisecond
	DefaultPin = 13
)

// Standard returns the specs of the standard library.
func Standard() []Spec {
	return []Spec{
		{
			Type: TypeForward, Name: "Forward",
			Description: "Passes every data packet through unchanged",
			InPorts:     []string{"IN"}, OutPorts: []string{"OUT"},
			New: func(board.Board) network.Component { return &Forward{} },
		},
		{
			Type: TypeSerialOut, Name: "SerialOut",
			Description: "Writes Characters to the serial port",
			InPorts:     []string{"IN"},
			New:         func(b board.Board) network.Component { return &SerialOut{board: b} },
		},
		{
			Type: TypeToggleBoolean, Name: "ToggleBoolean",
			Description: "Flips its state on every data packet and emits it; emits false at setup",
			InPorts:     []string{"IN"}, OutPorts: []string{"OUT"},
			New: func(board.Board) network.Component { return &ToggleBoolean{} },
		},
		{
			Type: TypeTimer, Name: "Timer",
			Description: "Emits true each time the interval elapses; INTERVAL sets it in 10ms units",
			InPorts:     []string{"INTERVAL"}, OutPorts: []string{"OUT"},
			New: func(b board.Board) network.Component {
				return &Timer{board: b, interval: DefaultTimerInterval}
			},
		},
		{
			Type: TypeDigitalWrite, Name: "DigitalWrite",
			Description: "Drives an output pin from Booleans; PIN selects the pin",
			InPorts:     []string{"IN", "PIN"},
			New: func(b board.Board) network.Component {
				return &DigitalWrite{board: b, pin: DefaultPin}
			},
		},
		{
			Type: TypeSerialIn, Name: "SerialIn",
			Description: "Emits one pending serial byte per tick as a Character",
			OutPorts:    []string{"OUT"},
			New:         func(b board.Board) network.Component { return &SerialIn{board: b} },
		},
		{
			Type: TypeInvertBoolean, Name: "InvertBoolean",
			Description: "Emits the negation of every Boolean",
			InPorts:     []string{"IN"}, OutPorts: []string{"OUT"},
			New: func(board.Board) network.Component { return &InvertBoolean{} },
		},
		{
			Type: TypeCounter, Name: "Counter",
			Description: "Counts data packets and emits the count; true on RESET clears it",
			InPorts:     []string{"IN", "RESET"}, OutPorts: []string{"OUT"},
			New: func(board.Board) network.Component { return &Counter{} },
		},
	}
}

// Forward passes data packets from IN to OUT.
type Forward struct {
	network.Base
}

// Process sends data packets received on IN to OUT.
func (c *Forward) Process(pkt types.Packet, port types.Port) {
	if port == 0 && pkt.IsData() {
		c.Emit(pkt, 0)
	}
}

// SerialOut writes Characters received on IN to the serial port.
type SerialOut struct {
	network.Base
	board board.Board
}

// Process writes a Character received on IN to the board's serial port.
func (c *SerialOut) Process(pkt types.Packet, port types.Port) {
	if port != 0 || c.board == nil {
		return
	}
	if ch, ok := pkt.Char(); ok {
		c.board.SerialWrite(ch)
	}
}

// ToggleBoolean flips a boolean on every data packet and emits the new value.
type ToggleBoolean struct {
	network.Base
	state bool
}

// Process emits false at setup and the flipped state for every data packet on IN.
func (c *ToggleBoolean) Process(pkt types.Packet, port types.Port) {
	switch {
	case pkt.Kind() == types.PacketSetup:
		c.state = false
		c.Emit(types.Boolean(c.state), 0)
	case port == 0 && pkt.IsData():
		c.state = !c.state
		c.Emit(types.Boolean(c.state), 0)
	}
}

// Timer emits Boolean(true) on the first tick at or after each interval boundary.
type Timer struct {
	network.Base
	board    board.Board
	interval time.Duration
	last     time.Duration
}

// Process emits true on ticks that cross the interval. A Character on
// INTERVAL sets the interval in TimerUnit steps; zero is ignored.
func (c *Timer) Process(pkt types.Packet, port types.Port) {
	switch {
	case pkt.Kind() == types.PacketSetup:
		c.last = c.now()
	case pkt.Kind() == types.PacketTick:
		if now := c.now(); now-c.last >= c.interval {
			c.last = now
			c.Emit(types.Boolean(true), 0)
		}
	case port == 0:
		if ch, ok := pkt.Char(); ok && ch > 0 {
			c.interval = time.Duration(ch) * TimerUnit
		}
	}
}

func (c *Timer) now() time.Duration {
	if c.board == nil {
		return 0
	}
	return c.board.Now()
}

// DigitalWrite drives a pin from Booleans on IN. A Character on PIN selects the pin.
type DigitalWrite struct {
	network.Base
	board board.Board
	pin   int
}

// Process drives the selected pin from Booleans on IN and selects the pin
// from Characters on PIN.
func (c *DigitalWrite) Process(pkt types.Packet, port types.Port) {
	switch port {
	case 0:
		if v, ok := pkt.Bool(); ok && c.board != nil {
			c.board.DigitalWrite(c.pin, v)
		}
	case 1:
		if ch, ok := pkt.Char(); ok {
			c.pin = int(ch)
		}
	}
}

// SerialIn emits one pending serial byte per tick.
type SerialIn struct {
	network.Base
	board board.Board
}

// Process emits the next pending serial byte as a Character on each tick.
func (c *SerialIn) Process(pkt types.Packet, _ types.Port) {
	if pkt.Kind() != types.PacketTick || c.board == nil {
		return
	}
	if b, ok := c.board.SerialRead(); ok {
		c.Emit(types.Character(b), 0)
	}
}

// InvertBoolean emits the negation of Booleans received on IN.
type InvertBoolean struct {
	network.Base
}

// Process emits the negation of each Boolean on IN.
func (c *InvertBoolean) Process(pkt types.Packet, port types.Port) {
	if port != 0 {
		return
	}
	if v, ok := pkt.Bool(); ok {
		c.Emit(types.Boolean(!v), 0)
	}
}

// Counter counts data packets on IN and emits the count modulo 256.
type Counter struct {
	network.Base
	count uint8
}

// Process emits the incremented count for each data packet on IN. true on
// RESET clears the count without emitting.
func (c *Counter) Process(pkt types.Packet, port types.Port) {
	switch port {
	case 0:
		if pkt.IsData() {
			c.count++
			c.Emit(types.Character(c.count), 0)
		}
	case 1:
		if v, ok := pkt.Bool(); ok && v {
			c.count = 0
		}
	}
}
