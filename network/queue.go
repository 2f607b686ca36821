package network

import "github.com/pithecene-io/tickflow/types"

// Message is a packet in flight to a node's input port.
type Message struct {
	Target     types.NodeID
	TargetPort types.Port
	Packet     types.Packet
}

var emptyMessage = Message{Target: types.NoNode, TargetPort: types.NoPort}

// ring is a fixed-size circular buffer of messages.
//
// It has capacity+1 slots: one slot always stays free so that read == write
// means empty and next(write) == read means full.
type ring struct {
	slots []Message
	read  int
	write int
	peak  int
}

func newRing(capacity int) *ring {
	r := &ring{slots: make([]Message, capacity+1)}
	r.clear()
	return r
}

// capacity is the number of messages the ring holds when full.
func (r *ring) capacity() int { return len(r.slots) - 1 }

func (r *ring) next(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}

func (r *ring) len() int {
	return (r.write - r.read + len(r.slots)) % len(r.slots)
}

func (r *ring) full() bool { return r.next(r.write) == r.read }

// push stores m at the write index and returns that index.
// Returns false without touching the ring if it is full.
func (r *ring) push(m Message) (int, bool) {
	if r.full() {
		return -1, false
	}
	idx := r.write
	r.slots[idx] = m
	r.write = r.next(idx)
	if n := r.len(); n > r.peak {
		r.peak = n
	}
	return idx, true
}

// take returns the message at idx, clears the slot and moves read past it.
func (r *ring) take(idx int) Message {
	m := r.slots[idx]
	r.slots[idx] = emptyMessage
	r.read = r.next(idx)
	return m
}

// pending returns a copy of the queued messages in delivery order.
func (r *ring) pending() []Message {
	out := make([]Message, 0, r.len())
	for i := r.read; i != r.write; i = r.next(i) {
		out = append(out, r.slots[i])
	}
	return out
}

func (r *ring) clear() {
	for i := range r.slots {
		r.slots[i] = emptyMessage
	}
	r.read, r.write = 0, 0
}
