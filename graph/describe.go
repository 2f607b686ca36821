package graph

import (
	"fmt"
	"strconv"

	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/types"
)

// TypeCatalog resolves wire type ids to specs.
type TypeCatalog interface {
	ByType(t types.ComponentType) (components.Spec, bool)
}

// Description is the static view of a graph that inspect renders.
type Description struct {
	Name     string          `json:"name,omitempty" yaml:"name,omitempty"`
	Format   Format          `json:"format" yaml:"format"`
	Nodes    []NodeInfo      `json:"nodes" yaml:"nodes"`
	Edges    []EdgeInfo      `json:"edges" yaml:"edges"`
	Initial  []InitialPacket `json:"initial,omitempty" yaml:"initial,omitempty"`
	Commands int             `json:"commands" yaml:"commands"`
	// Resets counts Reset commands; only the graph after the last one is shown.
	Resets int `json:"resets" yaml:"resets"`
	Bytes  int `json:"bytes" yaml:"bytes"`
}

// NodeInfo is one node of a Description.
type NodeInfo struct {
	ID        types.NodeID        `json:"id" yaml:"id"`
	Label     string              `json:"label" yaml:"label"`
	Type      types.ComponentType `json:"type" yaml:"type"`
	Component string              `json:"component" yaml:"component"`
}

// EdgeInfo is one connection of a Description, with ports named where the
// component declares them.
type EdgeInfo struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Describe replays cmds without running any component. labels name nodes
// by id; missing labels fall back to "n<id>".
func Describe(cmds []ipc.Command, labels []string, cat TypeCatalog) *Description {
	d := &Description{Commands: len(cmds), Nodes: []NodeInfo{}, Edges: []EdgeInfo{}}

	var specs []components.Spec
	for _, cmd := range cmds {
		switch cmd.Op {
		case ipc.OpReset:
			d.Resets++
			d.Nodes, d.Edges, specs = d.Nodes[:0], d.Edges[:0], specs[:0]
		case ipc.OpCreateComponent:
			id := types.NodeID(len(d.Nodes))
			spec, ok := cat.ByType(cmd.Type)
			name := spec.Name
			if !ok {
				name = fmt.Sprintf("unknown(%d)", cmd.Type)
			}
			d.Nodes = append(d.Nodes, NodeInfo{ID: id, Label: label(labels, id), Type: cmd.Type, Component: name})
			specs = append(specs, spec)
		case ipc.OpConnectNodes:
			d.Edges = append(d.Edges, EdgeInfo{
				From: endpointName(labels, specs, cmd.Src, cmd.SrcPort, true),
				To:   endpointName(labels, specs, cmd.Target, cmd.TargetPort, false),
			})
		}
	}
	return d
}

func label(labels []string, id types.NodeID) string {
	if int(id) < len(labels) && labels[id] != "" {
		return labels[id]
	}
	return "n" + strconv.Itoa(int(id))
}

func endpointName(labels []string, specs []components.Spec, id types.NodeID, port types.Port, output bool) string {
	name := strconv.Itoa(int(port))
	if int(id) < len(specs) {
		ports := specs[id].InPorts
		if output {
			ports = specs[id].OutPorts
		}
		if int(port) < len(ports) {
			name = ports[port]
		}
	}
	return label(labels, id) + "." + name
}

// DescribeProgram describes a compiled program, including its initial
// packets and encoded size.
func DescribeProgram(p *Program, cat TypeCatalog) (*Description, error) {
	data, err := p.Bytes()
	if err != nil {
		return nil, err
	}
	d := Describe(p.Commands, p.Labels, cat)
	d.Name = p.Name
	d.Initial = p.Initial
	d.Bytes = len(data)
	return d, nil
}
