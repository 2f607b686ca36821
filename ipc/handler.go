package ipc

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// Factory creates components by wire type id.
type Factory interface {
	Create(t types.ComponentType) (network.Component, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(t types.ComponentType) (network.Component, error)

// Create calls f(t).
func (f FactoryFunc) Create(t types.ComponentType) (network.Component, error) { return f(t) }

// ErrNilComponent is returned when a factory returns neither a component nor an error.
var ErrNilComponent = errors.New("factory returned nil component")

// NetworkHandler applies commands to a Network.
type NetworkHandler struct {
	Net     *network.Network
	Factory Factory
}

// Apply implements Handler.
//
//   - Reset calls Network.Reset
//   - CreateComponent calls Factory.Create, then Network.AddNode
//   - ConnectNodes calls Network.Connect
func (h *NetworkHandler) Apply(cmd Command) error {
	switch cmd.Op {
	case OpReset:
		return h.Net.Reset()
	case OpCreateComponent:
		c, err := h.Factory.Create(cmd.Type)
		if err != nil {
			return fmt.Errorf("create component type %d: %w", cmd.Type, err)
		}
		if c == nil {
			return fmt.Errorf("create component type %d: %w", cmd.Type, ErrNilComponent)
		}
		_, err = h.Net.AddNode(c)
		return err
	case OpConnectNodes:
		return h.Net.Connect(cmd.Src, cmd.SrcPort, cmd.Target, cmd.TargetPort)
	default:
		return fmt.Errorf("unsupported opcode %s", cmd.Op)
	}
}

// NewGraphStreamer returns a Streamer that builds the graph of net from a
// byte stream, creating components with factory.
func NewGraphStreamer(net *network.Network, factory Factory, cfg StreamerConfig) *Streamer {
	return NewStreamer(&NetworkHandler{Net: net, Factory: factory}, cfg)
}
