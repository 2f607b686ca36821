// Package graph loads human-authored graph definitions and compiles them to
// the wire protocol.
//
// A definition lists nodes in id order, edges between named ports and
// initial packets:
//
//	name: blink
//	nodes:
//	  - {name: timer, component: Timer}
//	  - {name: toggle, component: ToggleBoolean}
//	  - {name: led, component: DigitalWrite}
//	edges:
//	  - {from: timer.OUT, to: toggle.IN}
//	  - {from: toggle.OUT, to: led.IN}
//	initial:
//	  - {to: timer.INTERVAL, char: 30}
//
// The same definition can be written in HCL with node, edge and initial blocks.
package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/tickflow/types"
)

// ErrInvalidGraph is returned when a definition does not compile.
var ErrInvalidGraph = errors.New("invalid graph")

// Definition is a graph as written by a user.
type Definition struct {
	Name    string    `yaml:"name" hcl:"name,optional"`
	Nodes   []Node    `yaml:"nodes" hcl:"node,block"`
	Edges   []Edge    `yaml:"edges" hcl:"edge,block"`
	Initial []Initial `yaml:"initial" hcl:"initial,block"`
}

// Node declares one component instance. Nodes get ids in declaration order.
type Node struct {
	Name      string `yaml:"name" hcl:"name,label"`
	Component string `yaml:"component" hcl:"component"`
}

// Edge connects an output port to an input port, both written "node.PORT".
// Ports are port names or numbers.
type Edge struct {
	From string `yaml:"from" hcl:"from"`
	To   string `yaml:"to" hcl:"to"`
}

// Initial is a packet delivered to an input port before the first tick.
// Exactly one of Char and Bool must be set.
type Initial struct {
	To   string `yaml:"to" hcl:"to"`
	Char *int   `yaml:"char,omitempty" hcl:"char,optional"`
	Bool *bool  `yaml:"bool,omitempty" hcl:"bool,optional"`
}

// Packet returns the packet described by i.
func (i Initial) Packet() (types.Packet, error) {
	switch {
	case i.Char != nil && i.Bool != nil:
		return types.Packet{}, fmt.Errorf("initial packet for %s sets both char and bool", i.To)
	case i.Char != nil:
		if *i.Char < 0 || *i.Char > types.MaxWireValue {
			return types.Packet{}, fmt.Errorf("initial packet for %s: char %d not in [0, %d]", i.To, *i.Char, types.MaxWireValue)
		}
		return types.Character(byte(*i.Char)), nil
	case i.Bool != nil:
		return types.Boolean(*i.Bool), nil
	default:
		return types.Packet{}, fmt.Errorf("initial packet for %s sets neither char nor bool", i.To)
	}
}

// endpoint is a parsed "node.PORT" reference.
type endpoint struct {
	node string
	port string
}

func parseEndpoint(s string) (endpoint, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return endpoint{}, fmt.Errorf("endpoint %q must be written node.PORT", s)
	}
	return endpoint{node: s[:i], port: s[i+1:]}, nil
}

// numericPort returns the port number if the port is written as a number.
func (e endpoint) numericPort() (types.Port, bool) {
	n, err := strconv.Atoi(e.port)
	if err != nil || n < 0 || n > types.MaxWireValue {
		return types.NoPort, false
	}
	return types.Port(n), true
}
