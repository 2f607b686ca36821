package types

import "strconv"

// NodeID is the position of a component in the network's node table.
// It is also the value exchanged on the wire, so valid ids fit in a byte.
type NodeID int

// NoNode marks an absent connection target.
const NoNode NodeID = -1

// Valid returns true if the id can index a node table.
func (id NodeID) Valid() bool { return id >= 0 }

func (id NodeID) String() string {
	if id == NoNode {
		return "none"
	}
	return strconv.Itoa(int(id))
}

// Port numbers an input or output slot on a component.
type Port int

const (
	// NoPort marks an unconnected output.
	NoPort Port = -1
	// ControlPort is the port value passed to Process for Setup and Tick.
	ControlPort Port = -1
)

// ComponentType identifies a component variant for the factory.
type ComponentType uint8

func (t ComponentType) String() string {
	return strconv.Itoa(int(t))
}

// MaxWireValue is the largest id, port, or component type the wire protocol can carry.
const MaxWireValue = 255
