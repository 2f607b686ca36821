// Package types defines core domain types for the tickflow runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// PacketKind discriminates the active variant of a Packet.
type PacketKind uint8

// Packet variants. The zero value is PacketInvalid.
const (
	PacketInvalid PacketKind = iota
	PacketCharacter
	PacketBoolean
	PacketSetup
	PacketTick
)

// String returns the lowercase variant name.
func (k PacketKind) String() string {
	switch k {
	case PacketInvalid:
		return "invalid"
	case PacketCharacter:
		return "character"
	case PacketBoolean:
		return "boolean"
	case PacketSetup:
		return "setup"
	case PacketTick:
		return "tick"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsControl returns true for scheduler signals (Setup, Tick).
func (k PacketKind) IsControl() bool {
	return k == PacketSetup || k == PacketTick
}

// Packet is the unit exchanged between components.
// It is a small comparable value: exactly one variant is active and only the
// payload belonging to that variant is meaningful. Packets carry no identity.
type Packet struct {
	kind    PacketKind
	char    byte
	boolean bool
}

// Character returns a Character packet carrying b.
func Character(b byte) Packet {
	return Packet{kind: PacketCharacter, char: b}
}

// Boolean returns a Boolean packet carrying v.
func Boolean(v bool) Packet {
	return Packet{kind: PacketBoolean, boolean: v}
}

// Signal returns a control packet of the given kind.
// Kinds that are not control signals produce an Invalid packet.
func Signal(kind PacketKind) Packet {
	if !kind.IsControl() {
		return Packet{}
	}
	return Packet{kind: kind}
}

// SetupPacket is the one-time control signal delivered before ticking.
var SetupPacket = Signal(PacketSetup)

// TickPacket is the per-generation control signal.
var TickPacket = Signal(PacketTick)

// Kind returns the active variant.
func (p Packet) Kind() PacketKind { return p.kind }

// IsValid returns false for the zero packet.
func (p Packet) IsValid() bool { return p.kind != PacketInvalid }

// IsControl returns true for Setup and Tick packets.
func (p Packet) IsControl() bool { return p.kind.IsControl() }

// IsData returns true for Character and Boolean packets.
func (p Packet) IsData() bool {
	return p.kind == PacketCharacter || p.kind == PacketBoolean
}

// Char returns the payload of a Character packet.
func (p Packet) Char() (byte, bool) {
	if p.kind != PacketCharacter {
		return 0, false
	}
	return p.char, true
}

// Bool returns the payload of a Boolean packet.
func (p Packet) Bool() (bool, bool) {
	if p.kind != PacketBoolean {
		return false, false
	}
	return p.boolean, true
}

// String renders the packet as IP(kind:payload).
func (p Packet) String() string {
	switch p.kind {
	case PacketCharacter:
		return fmt.Sprintf("IP(%s:0x%02X)", p.kind, p.char)
	case PacketBoolean:
		return fmt.Sprintf("IP(%s:%t)", p.kind, p.boolean)
	default:
		return fmt.Sprintf("IP(%s)", p.kind)
	}
}
