package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// forwardPair builds a -> b from two Forward components with c's hooks installed.
func forwardPair(t *testing.T, c *Collector) *network.Network {
	t.Helper()
	net, err := network.New(network.DefaultConfig())
	if err != nil {
		t.Fatalf("network.New() error = %v", err)
	}
	net.SetHooks(c.Hooks())

	reg := components.NewRegistry(nil)
	c.SetTypeNames(reg.TypeName)
	for range 2 {
		comp, err := reg.Create(components.TypeForward)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := net.AddNode(comp); err != nil {
			t.Fatalf("AddNode() error = %v", err)
		}
	}
	if err := net.Connect(0, 0, 1, 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return net
}

func TestCollector_Hooks(t *testing.T) {
	c := NewCollector("run-001", "pair")
	net := forwardPair(t, c)

	if err := net.SendMessage(0, 0, types.Character('x'), types.NoNode, types.NoPort); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	for range 2 {
		if err := net.RunTick(); err != nil {
			t.Fatalf("RunTick() error = %v", err)
		}
		c.IncTick()
	}
	c.AbsorbNetworkStats(net.Stats())

	s := c.Snapshot()
	if s.NodesAdded != 2 {
		t.Errorf("NodesAdded = %d, want 2", s.NodesAdded)
	}
	if s.Connects != 1 {
		t.Errorf("Connects = %d, want 1", s.Connects)
	}
	// One injected message plus one forwarded by node 0.
	if s.MessagesSent != 2 {
		t.Errorf("MessagesSent = %d, want 2", s.MessagesSent)
	}
	if s.MessagesDelivered != 2 {
		t.Errorf("MessagesDelivered = %d, want 2", s.MessagesDelivered)
	}
	if got := s.SentByComponent["Forward"]; got != 1 {
		t.Errorf("SentByComponent[Forward] = %d, want 1", got)
	}
	if s.UnconnectedSends != 1 {
		t.Errorf("UnconnectedSends = %d, want 1", s.UnconnectedSends)
	}
	if s.TicksRun != 2 {
		t.Errorf("TicksRun = %d, want 2", s.TicksRun)
	}
	if s.Nodes != 2 || s.QueueCapacity != network.DefaultConfig().QueueCapacity {
		t.Errorf("Nodes, QueueCapacity = %d, %d", s.Nodes, s.QueueCapacity)
	}
}

func TestCollector_RecordOutcome(t *testing.T) {
	c := NewCollector("run-1", "")
	c.IncRunStarted()
	for _, status := range []types.OutcomeStatus{
		types.OutcomeCompleted,
		types.OutcomeGraphError,
		types.OutcomeGraphError,
		types.OutcomeRuntimeFault,
		types.OutcomeQueueOverflow,
		"unknown",
	} {
		c.RecordOutcome(status)
	}

	s := c.Snapshot()
	if s.RunsStarted != 1 {
		t.Errorf("RunsStarted = %d, want 1", s.RunsStarted)
	}
	if s.RunsCompleted != 1 {
		t.Errorf("RunsCompleted = %d, want 1", s.RunsCompleted)
	}
	if s.RunsGraphError != 2 {
		t.Errorf("RunsGraphError = %d, want 2", s.RunsGraphError)
	}
	if s.RunsFaulted != 1 {
		t.Errorf("RunsFaulted = %d, want 1", s.RunsFaulted)
	}
	if s.RunsOverflowed != 1 {
		t.Errorf("RunsOverflowed = %d, want 1", s.RunsOverflowed)
	}
}

func TestCollector_AbsorbStreamStats(t *testing.T) {
	c := NewCollector("run-1", "")
	c.AbsorbStreamStats(ipc.StreamStats{Bytes: 40, Commands: 5, Rejected: 2, ProtocolErrors: 1, Resyncs: 1})
	// Latest snapshot wins.
	c.AbsorbStreamStats(ipc.StreamStats{Bytes: 46, Commands: 6, Rejected: 2, ProtocolErrors: 1, Resyncs: 1})

	s := c.Snapshot()
	if s.ProtocolBytes != 46 {
		t.Errorf("ProtocolBytes = %d, want 46", s.ProtocolBytes)
	}
	if s.CommandsApplied != 4 {
		t.Errorf("CommandsApplied = %d, want 4", s.CommandsApplied)
	}
	if s.CommandsRejected != 2 {
		t.Errorf("CommandsRejected = %d, want 2", s.CommandsRejected)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.IncRunStarted()
	c.RecordOutcome(types.OutcomeCompleted)
	c.IncTick()
	c.IncSetup()
	c.AddInitial(3)
	c.SetTypeNames(nil)
	c.AbsorbNetworkStats(network.Stats{Sent: 1})
	c.AbsorbStreamStats(ipc.StreamStats{Bytes: 1})

	h := c.Hooks()
	if h.OnSend != nil || h.OnDeliver != nil || h.OnConnect != nil || h.OnAddNode != nil {
		t.Error("nil collector returned non-empty hooks")
	}
	s := c.Snapshot()
	if s.RunsStarted != 0 || s.SentByComponent != nil {
		t.Errorf("nil Snapshot = %+v, want zero", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("run-1", "")
	net := forwardPair(t, c)
	_ = net.SendMessage(0, 0, types.Character('x'), types.NoNode, types.NoPort)
	_ = net.RunTick()

	s := c.Snapshot()
	s.SentByComponent["Forward"] = 99

	if got := c.Snapshot().SentByComponent["Forward"]; got != 1 {
		t.Errorf("collector mutated through snapshot: Forward = %d, want 1", got)
	}
}

func TestCollector_ConcurrentSafety(t *testing.T) {
	c := NewCollector("run-1", "")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(3)
		go func() { defer wg.Done(); c.IncTick() }()
		go func() { defer wg.Done(); c.AbsorbNetworkStats(network.Stats{Sent: 1}) }()
		go func() { defer wg.Done(); _ = c.Snapshot() }()
	}
	wg.Wait()

	if got := c.Snapshot().TicksRun; got != 50 {
		t.Errorf("TicksRun = %d, want 50", got)
	}
}

func TestExporter_Collect(t *testing.T) {
	c := NewCollector("run-7", "pair")
	net := forwardPair(t, c)
	_ = net.SendMessage(0, 0, types.Character('x'), types.NoNode, types.NoPort)
	_ = net.RunTick()
	c.AbsorbStreamStats(ipc.StreamStats{Bytes: 21, Commands: 3})
	c.RecordOutcome(types.OutcomeCompleted)

	want := `
# HELP tickflow_messages_sent_total Messages enqueued.
# TYPE tickflow_messages_sent_total counter
tickflow_messages_sent_total{graph="pair",run_id="run-7"} 2
# HELP tickflow_messages_sent_by_component_total Messages enqueued by sender component type.
# TYPE tickflow_messages_sent_by_component_total counter
tickflow_messages_sent_by_component_total{component="Forward",graph="pair",run_id="run-7"} 1
# HELP tickflow_protocol_commands_total Graph commands by result.
# TYPE tickflow_protocol_commands_total counter
tickflow_protocol_commands_total{graph="pair",result="applied",run_id="run-7"} 3
tickflow_protocol_commands_total{graph="pair",result="rejected",run_id="run-7"} 0
`
	err := testutil.CollectAndCompare(NewExporter(c), strings.NewReader(want),
		"tickflow_messages_sent_total",
		"tickflow_messages_sent_by_component_total",
		"tickflow_protocol_commands_total",
	)
	if err != nil {
		t.Errorf("CollectAndCompare() error = %v", err)
	}

	if n := testutil.CollectAndCount(NewExporter(c), "tickflow_runs_total"); n != 4 {
		t.Errorf("tickflow_runs_total series = %d, want 4", n)
	}
}

func TestHandler(t *testing.T) {
	reg, err := NewRegistry(NewCollector("run-1", ""))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", resp.StatusCode)
	}

	health, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", health.StatusCode)
	}
}
