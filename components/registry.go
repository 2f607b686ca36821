// Package components provides the standard component library and the
// factory that creates components by wire type id.
package components

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// ErrUnknownComponent is returned for type ids or names that are not registered.
var ErrUnknownComponent = errors.New("unknown component")

// ErrUnknownPort is returned when a port name is not declared by a component.
var ErrUnknownPort = errors.New("unknown port")

// Spec describes a component type.
type Spec struct {
	Type        types.ComponentType `json:"type" yaml:"type"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description" yaml:"description"`
	// InPorts and OutPorts name the ports by index.
	InPorts  []string `json:"in_ports" yaml:"in_ports"`
	OutPorts []string `json:"out_ports" yaml:"out_ports"`

	// New creates an instance wired to the board.
	New func(b board.Board) network.Component `json:"-" yaml:"-"`
}

// InPort resolves an input port name, case-insensitively.
func (s Spec) InPort(name string) (types.Port, error) {
	return findPort(s.Name, "input", s.InPorts, name)
}

// OutPort resolves an output port name, case-insensitively.
func (s Spec) OutPort(name string) (types.Port, error) {
	return findPort(s.Name, "output", s.OutPorts, name)
}

func findPort(component, dir string, ports []string, name string) (types.Port, error) {
	for i, p := range ports {
		if strings.EqualFold(p, name) {
			return types.Port(i), nil
		}
	}
	return types.NoPort, fmt.Errorf("%w: %s has no %s port %q (have %s)",
		ErrUnknownPort, component, dir, name, strings.Join(ports, ", "))
}

// Registry maps type ids and names to specs and creates components on a board.
type Registry struct {
	board  board.Board
	byType map[types.ComponentType]Spec
	byName map[string]types.ComponentType
}

// NewRegistry creates a registry holding the standard library, creating
// components on b. b may be nil when the registry is only used for lookups.
func NewRegistry(b board.Board) *Registry {
	r := &Registry{
		board:  b,
		byType: make(map[types.ComponentType]Spec),
		byName: make(map[string]types.ComponentType),
	}
	for _, s := range Standard() {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a spec. Type ids and names must be unique; type 0 is reserved.
func (r *Registry) Register(s Spec) error {
	if s.Type == 0 {
		return fmt.Errorf("register %q: type id 0 is reserved", s.Name)
	}
	if s.Name == "" || s.New == nil {
		return fmt.Errorf("register type %d: name and constructor are required", s.Type)
	}
	if prev, ok := r.byType[s.Type]; ok {
		return fmt.Errorf("register %q: type id %d already used by %q", s.Name, s.Type, prev.Name)
	}
	key := strings.ToLower(s.Name)
	if _, ok := r.byName[key]; ok {
		return fmt.Errorf("register %q: name already registered", s.Name)
	}
	r.byType[s.Type] = s
	r.byName[key] = s.Type
	return nil
}

// Create implements the graph factory: it builds a component of type t
// with its type stamped.
func (r *Registry) Create(t types.ComponentType) (network.Component, error) {
	s, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: type id %d", ErrUnknownComponent, t)
	}
	return network.WithType(s.New(r.board), t), nil
}

// ByType returns the spec of type id t.
func (r *Registry) ByType(t types.ComponentType) (Spec, bool) {
	s, ok := r.byType[t]
	return s, ok
}

// TypeName returns the registered name of type id t, or "" if unknown.
func (r *Registry) TypeName(t types.ComponentType) string {
	return r.byType[t].Name
}

// Lookup returns the spec registered under name, case-insensitively.
func (r *Registry) Lookup(name string) (Spec, bool) {
	t, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Spec{}, false
	}
	return r.byType[t], true
}

// Specs returns all registered specs ordered by type id.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.byType))
	for _, s := range r.byType {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Spec) int { return int(a.Type) - int(b.Type) })
	return out
}
