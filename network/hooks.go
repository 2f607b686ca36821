package network

import "github.com/pithecene-io/tickflow/types"

// Hooks are optional observers of engine activity. Nil fields are skipped.
//
// Hooks run synchronously on the scheduling goroutine. They must not mutate
// the network or call back into the scheduler.
type Hooks struct {
	// OnSend fires after a message is enqueued at queue slot index.
	// sender is nil for messages injected with SendMessage(..., types.NoNode, ...).
	OnSend func(index int, msg Message, sender Component, senderPort types.Port)
	// OnDeliver fires after the target's Process returns.
	OnDeliver func(index int, msg Message)
	// OnConnect fires after an output port is wired.
	OnConnect func(src Component, srcPort types.Port, target Component, targetPort types.Port)
	// OnAddNode fires after a component is registered and has its id.
	OnAddNode func(c Component)
}

// ChainHooks returns Hooks that call every non-nil hook of each argument in order.
func ChainHooks(all ...Hooks) Hooks {
	var out Hooks

	var sends []func(int, Message, Component, types.Port)
	var delivers []func(int, Message)
	var connects []func(Component, types.Port, Component, types.Port)
	var adds []func(Component)
	for _, h := range all {
		if h.OnSend != nil {
			sends = append(sends, h.OnSend)
		}
		if h.OnDeliver != nil {
			delivers = append(delivers, h.OnDeliver)
		}
		if h.OnConnect != nil {
			connects = append(connects, h.OnConnect)
		}
		if h.OnAddNode != nil {
			adds = append(adds, h.OnAddNode)
		}
	}

	if len(sends) > 0 {
		out.OnSend = func(index int, msg Message, sender Component, senderPort types.Port) {
			for _, f := range sends {
				f(index, msg, sender, senderPort)
			}
		}
	}
	if len(delivers) > 0 {
		out.OnDeliver = func(index int, msg Message) {
			for _, f := range delivers {
				f(index, msg)
			}
		}
	}
	if len(connects) > 0 {
		out.OnConnect = func(src Component, srcPort types.Port, target Component, targetPort types.Port) {
			for _, f := range connects {
				f(src, srcPort, target, targetPort)
			}
		}
	}
	if len(adds) > 0 {
		out.OnAddNode = func(c Component) {
			for _, f := range adds {
				f(c)
			}
		}
	}
	return out
}
