package graph

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/types"
)

// Catalog resolves component names to specs.
type Catalog interface {
	Lookup(name string) (components.Spec, bool)
}

// CompileOptions tune Compile.
type CompileOptions struct {
	// Reset prefixes the program with a Reset command so it can be streamed
	// into a network that already holds a graph.
	Reset bool
}

// InitialPacket is a compiled initial packet addressed by node id.
type InitialPacket struct {
	Node types.NodeID `msgpack:"node" json:"node" yaml:"node"`
	Port types.Port   `msgpack:"port" json:"port" yaml:"port"`
	// Kind is "char" or "bool".
	Kind  string `msgpack:"kind" json:"kind" yaml:"kind"`
	Value int    `msgpack:"value" json:"value" yaml:"value"`
}

// Packet decodes the packet value.
func (p InitialPacket) Packet() (types.Packet, error) {
	switch p.Kind {
	case "char":
		if p.Value < 0 || p.Value > types.MaxWireValue {
			return types.Packet{}, fmt.Errorf("char value %d out of range", p.Value)
		}
		return types.Character(byte(p.Value)), nil
	case "bool":
		return types.Boolean(p.Value != 0), nil
	default:
		return types.Packet{}, fmt.Errorf("unknown initial packet kind %q", p.Kind)
	}
}

func initialFromPacket(node types.NodeID, port types.Port, pkt types.Packet) InitialPacket {
	ip := InitialPacket{Node: node, Port: port}
	if c, ok := pkt.Char(); ok {
		ip.Kind, ip.Value = "char", int(c)
	} else if b, ok := pkt.Bool(); ok {
		ip.Kind = "bool"
		if b {
			ip.Value = 1
		}
	}
	return ip
}

// Program is a compiled graph.
type Program struct {
	Name string
	// Labels are the node names, indexed by node id.
	Labels   []string
	Commands []ipc.Command
	Initial  []InitialPacket
}

// Bytes encodes the commands as a protocol stream.
func (p *Program) Bytes() ([]byte, error) {
	return ipc.AppendProgram(nil, p.Commands)
}

// Compile resolves def against cat. All problems are reported together,
// each wrapped in ErrInvalidGraph.
func Compile(def *Definition, cat Catalog, opts CompileOptions) (*Program, error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidGraph}, args...)...))
	}

	prog := &Program{Name: def.Name}
	if opts.Reset {
		prog.Commands = append(prog.Commands, ipc.ResetCommand())
	}

	if len(def.Nodes) > types.MaxWireValue+1 {
		fail("%d nodes exceed the wire limit of %d", len(def.Nodes), types.MaxWireValue+1)
	}

	type resolved struct {
		id   types.NodeID
		spec components.Spec
	}
	nodes := make(map[string]resolved, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.Name == "" {
			fail("node %d has no name", i)
			continue
		}
		if _, dup := nodes[n.Name]; dup {
			fail("duplicate node name %q", n.Name)
			continue
		}
		spec, ok := cat.Lookup(n.Component)
		if !ok {
			fail("node %q: %v %q", n.Name, components.ErrUnknownComponent, n.Component)
			// Keep the slot so later ids stay aligned with declaration order.
		}
		id := types.NodeID(len(prog.Labels))
		nodes[n.Name] = resolved{id: id, spec: spec}
		prog.Labels = append(prog.Labels, n.Name)
		prog.Commands = append(prog.Commands, ipc.CreateCommand(spec.Type))
	}

	resolve := func(ref string, output bool) (types.NodeID, types.Port, bool) {
		ep, err := parseEndpoint(ref)
		if err != nil {
			fail("%v", err)
			return types.NoNode, types.NoPort, false
		}
		n, ok := nodes[ep.node]
		if !ok {
			fail("endpoint %q: unknown node %q", ref, ep.node)
			return types.NoNode, types.NoPort, false
		}
		if port, ok := ep.numericPort(); ok {
			return n.id, port, true
		}
		var port types.Port
		if output {
			port, err = n.spec.OutPort(ep.port)
		} else {
			port, err = n.spec.InPort(ep.port)
		}
		if err != nil {
			fail("endpoint %q: %v", ref, err)
			return types.NoNode, types.NoPort, false
		}
		return n.id, port, true
	}

	for _, e := range def.Edges {
		src, srcPort, ok1 := resolve(e.From, true)
		target, targetPort, ok2 := resolve(e.To, false)
		if ok1 && ok2 {
			prog.Commands = append(prog.Commands, ipc.ConnectCommand(src, srcPort, target, targetPort))
		}
	}

	for _, in := range def.Initial {
		pkt, err := in.Packet()
		if err != nil {
			fail("%v", err)
			continue
		}
		node, port, ok := resolve(in.To, false)
		if ok {
			prog.Initial = append(prog.Initial, initialFromPacket(node, port, pkt))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return prog, nil
}
