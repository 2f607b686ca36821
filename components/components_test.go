package components

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// capture records data packets delivered to it.
type capture struct {
	network.Base
	got []types.Packet
}

func (c *capture) Process(pkt types.Packet, _ types.Port) {
	if pkt.IsData() {
		c.got = append(c.got, pkt)
	}
}

type rig struct {
	t   *testing.T
	net *network.Network
	reg *Registry
	sim *board.Sim
}

func newRig(t *testing.T) *rig {
	t.Helper()
	net, err := network.New(network.DefaultConfig())
	if err != nil {
		t.Fatalf("network.New() error = %v", err)
	}
	sim := board.NewSim()
	return &rig{t: t, net: net, reg: NewRegistry(sim), sim: sim}
}

func (r *rig) add(typ types.ComponentType) types.NodeID {
	r.t.Helper()
	c, err := r.reg.Create(typ)
	if err != nil {
		r.t.Fatalf("Create(%d) error = %v", typ, err)
	}
	id, err := r.net.AddNode(c)
	if err != nil {
		r.t.Fatalf("AddNode() error = %v", err)
	}
	return id
}

// tap attaches a capture to output port 0 of src.
func (r *rig) tap(src types.NodeID) *capture {
	r.t.Helper()
	c := &capture{}
	id, err := r.net.AddNode(c)
	if err != nil {
		r.t.Fatalf("AddNode() error = %v", err)
	}
	r.connect(src, 0, id, 0)
	return c
}

func (r *rig) connect(src types.NodeID, srcPort types.Port, target types.NodeID, targetPort types.Port) {
	r.t.Helper()
	if err := r.net.Connect(src, srcPort, target, targetPort); err != nil {
		r.t.Fatalf("Connect() error = %v", err)
	}
}

func (r *rig) inject(target types.NodeID, port types.Port, pkt types.Packet) {
	r.t.Helper()
	if err := r.net.SendMessage(target, port, pkt, types.NoNode, types.NoPort); err != nil {
		r.t.Fatalf("SendMessage() error = %v", err)
	}
}

func (r *rig) tick(n int) {
	r.t.Helper()
	for range n {
		if err := r.net.RunTick(); err != nil {
			r.t.Fatalf("RunTick() error = %v", err)
		}
	}
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry(board.NewSim())
	for _, s := range reg.Specs() {
		c, err := reg.Create(s.Type)
		if err != nil {
			t.Errorf("Create(%d) error = %v", s.Type, err)
			continue
		}
		if got := c.(interface{ ComponentType() types.ComponentType }).ComponentType(); got != s.Type {
			t.Errorf("%s ComponentType() = %d, want %d", s.Name, got, s.Type)
		}
	}

	for _, typ := range []types.ComponentType{0, 9, 255} {
		if _, err := reg.Create(typ); !errors.Is(err, ErrUnknownComponent) {
			t.Errorf("Create(%d) error = %v, want ErrUnknownComponent", typ, err)
		}
	}
}

func TestRegistry_SpecsAndLookup(t *testing.T) {
	reg := NewRegistry(nil)
	var ids []types.ComponentType
	for _, s := range reg.Specs() {
		ids = append(ids, s.Type)
	}
	if diff := cmp.Diff([]types.ComponentType{1, 2, 3, 4, 5, 6, 7, 8}, ids, packetCmp); diff != "" {
		t.Errorf("Specs() ids (-want +got):\n%s", diff)
	}

	s, ok := reg.Lookup("digitalwrite")
	if !ok || s.Type != TypeDigitalWrite {
		t.Fatalf("Lookup(digitalwrite) = %v, %v", s.Name, ok)
	}
	if p, err := s.InPort("pin"); err != nil || p != 1 {
		t.Errorf("InPort(pin) = %d, %v, want 1, nil", p, err)
	}
	if _, err := s.OutPort("OUT"); !errors.Is(err, ErrUnknownPort) {
		t.Errorf("OutPort(OUT) error = %v, want ErrUnknownPort", err)
	}
	if _, ok := reg.Lookup("Blink"); ok {
		t.Error("Lookup(Blink) found a spec")
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(nil)
	newFwd := func(board.Board) network.Component { return &Forward{} }

	tests := []struct {
		name string
		spec Spec
	}{
		{"reserved id", Spec{Type: 0, Name: "Zero", New: newFwd}},
		{"duplicate id", Spec{Type: TypeForward, Name: "Other", New: newFwd}},
		{"duplicate name", Spec{Type: 42, Name: "forward", New: newFwd}},
		{"missing constructor", Spec{Type: 43, Name: "Nothing"}},
	}
	for _, tt := range tests {
		if err := reg.Register(tt.spec); err == nil {
			t.Errorf("%s: Register() error = nil", tt.name)
		}
	}

	if err := reg.Register(Spec{Type: 42, Name: "Relay", New: newFwd}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Create(42); err != nil {
		t.Errorf("Create(42) error = %v", err)
	}
}

func TestForwardAndInvert(t *testing.T) {
	r := newRig(t)
	fwd := r.add(TypeForward)
	inv := r.add(TypeInvertBoolean)
	r.connect(fwd, 0, inv, 0)
	out := r.tap(inv)

	r.inject(fwd, 0, types.Boolean(true))
	r.inject(fwd, 0, types.Character('x'))
	r.tick(3)

	if diff := cmp.Diff([]types.Packet{types.Boolean(false)}, out.got, packetCmp); diff != "" {
		t.Errorf("inverted (-want +got):\n%s", diff)
	}
}

func TestToggleBoolean(t *testing.T) {
	r := newRig(t)
	toggle := r.add(TypeToggleBoolean)
	out := r.tap(toggle)

	if err := r.net.RunSetup(); err != nil {
		t.Fatalf("RunSetup() error = %v", err)
	}
	r.inject(toggle, 0, types.Boolean(true))
	r.inject(toggle, 0, types.Character('a'))
	r.tick(2)

	want := []types.Packet{types.Boolean(false), types.Boolean(true), types.Boolean(false)}
	if diff := cmp.Diff(want, out.got, packetCmp); diff != "" {
		t.Errorf("toggle output (-want +got):\n%s", diff)
	}
}

func TestTimer(t *testing.T) {
	r := newRig(t)
	timer := r.add(TypeTimer)
	out := r.tap(timer)
	if err := r.net.RunSetup(); err != nil {
		t.Fatalf("RunSetup() error = %v", err)
	}

	r.sim.Advance(299 * time.Millisecond)
	r.tick(1)
	if len(out.got) != 0 {
		t.Fatalf("timer fired early: %v", out.got)
	}
	r.sim.Advance(time.Millisecond)
	r.tick(2)
	if diff := cmp.Diff([]types.Packet{types.Boolean(true)}, out.got, packetCmp); diff != "" {
		t.Errorf("timer output (-want +got):\n%s", diff)
	}

	// INTERVAL is in 10ms units.
	out.got = nil
	r.inject(timer, 0, types.Character(5))
	r.tick(1)
	r.sim.Advance(50 * time.Millisecond)
	r.tick(2)
	if len(out.got) != 1 {
		t.Errorf("timer fired %d times after 50ms interval, want 1", len(out.got))
	}
}

func TestDigitalWrite(t *testing.T) {
	r := newRig(t)
	led := r.add(TypeDigitalWrite)

	r.inject(led, 0, types.Boolean(true))
	r.tick(1)
	if high, _ := r.sim.Pin(DefaultPin); !high {
		t.Errorf("pin %d low, want high", DefaultPin)
	}

	r.inject(led, 1, types.Character(7))
	r.inject(led, 0, types.Boolean(true))
	r.tick(1)
	if high, written := r.sim.Pin(7); !written || !high {
		t.Errorf("Pin(7) = %v, %v, want high", high, written)
	}
}

func TestSerialInToSerialOut(t *testing.T) {
	r := newRig(t)
	in := r.add(TypeSerialIn)
	out := r.add(TypeSerialOut)
	r.connect(in, 0, out, 0)

	if _, err := r.sim.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// One byte read per tick, delivered on the following tick.
	r.tick(4)
	if got := string(r.sim.SerialOutput()); got != "abc" {
		t.Errorf("SerialOutput() = %q, want %q", got, "abc")
	}
}

func TestEmit_CountsDroppedPackets(t *testing.T) {
	net, err := network.New(network.Config{QueueCapacity: 1})
	if err != nil {
		t.Fatalf("network.New() error = %v", err)
	}
	sim := board.NewSim()
	r := &rig{t: t, net: net, reg: NewRegistry(sim), sim: sim}

	first := r.add(TypeSerialIn)
	second := r.add(TypeSerialIn)
	out := r.tap(first)
	r.connect(second, 0, r.add(TypeSerialOut), 0)

	if _, err := sim.Write([]byte("ab")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Both read a byte in the same broadcast; the second finds the queue full.
	r.tick(1)

	dropped := func(id types.NodeID) int64 {
		c, _ := net.Node(id)
		return c.(*SerialIn).Dropped()
	}
	if got := dropped(first); got != 0 {
		t.Errorf("first Dropped() = %d, want 0", got)
	}
	if got := dropped(second); got != 1 {
		t.Errorf("second Dropped() = %d, want 1", got)
	}
	if got := net.Stats().Overflows; got != 1 {
		t.Errorf("Overflows = %d, want 1", got)
	}

	r.tick(1)
	if diff := cmp.Diff([]types.Packet{types.Character('a')}, out.got, packetCmp); diff != "" {
		t.Errorf("delivered (-want +got):\n%s", diff)
	}
	if got := string(sim.SerialOutput()); got != "" {
		t.Errorf("SerialOutput() = %q, want empty", got)
	}
}

func TestCounter(t *testing.T) {
	r := newRig(t)
	counter := r.add(TypeCounter)
	out := r.tap(counter)

	r.inject(counter, 0, types.Boolean(false))
	r.inject(counter, 0, types.Character('z'))
	r.inject(counter, 1, types.Boolean(true))
	r.inject(counter, 0, types.Boolean(true))
	r.tick(2)

	want := []types.Packet{types.Character(1), types.Character(2), types.Character(1)}
	if diff := cmp.Diff(want, out.got, packetCmp); diff != "" {
		t.Errorf("counter output (-want +got):\n%s", diff)
	}
}

// TestBlink runs the classic blink graph streamed through the wire protocol.
func TestBlink(t *testing.T) {
	r := newRig(t)
	streamer := ipc.NewGraphStreamer(r.net, r.reg, ipc.StreamerConfig{})
	program, err := ipc.AppendProgram(nil, []ipc.Command{
		ipc.CreateCommand(TypeTimer),
		ipc.CreateCommand(TypeToggleBoolean),
		ipc.CreateCommand(TypeDigitalWrite),
		ipc.ConnectCommand(0, 0, 1, 0),
		ipc.ConnectCommand(1, 0, 2, 0),
	})
	if err != nil {
		t.Fatalf("AppendProgram() error = %v", err)
	}
	if _, err := streamer.Write(program); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	r.sim.DigitalWrite(DefaultPin, true)

	if err := r.net.RunSetup(); err != nil {
		t.Fatalf("RunSetup() error = %v", err)
	}
	r.tick(1)
	if high, _ := r.sim.Pin(DefaultPin); high {
		t.Fatal("LED should start low")
	}

	want := true
	for cycle := 0; cycle < 3; cycle++ {
		r.sim.Advance(301 * time.Millisecond)
		// timer fires, toggle flips, pin written
		r.tick(3)
		if high, _ := r.sim.Pin(DefaultPin); high != want {
			t.Errorf("cycle %d: LED high = %v, want %v", cycle, high, want)
		}
		want = !want
	}
}

// packetCmp lets cmp compare types.Packet, whose fields are unexported.
var packetCmp = cmpopts.EquateComparable(types.Packet{})
