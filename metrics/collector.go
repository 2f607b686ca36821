// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single run. Message and graph
// counters are recorded live through the network hooks returned by Hooks.
// Queue and protocol counters are absorbed from network.Stats and
// ipc.StreamStats snapshots rather than recorded live, avoiding double-counting.
package metrics

import (
	"sync"

	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted     int64 `json:"runs_started"`
	RunsCompleted   int64 `json:"runs_completed"`
	RunsGraphError  int64 `json:"runs_graph_error"`
	RunsFaulted     int64 `json:"runs_faulted"`
	RunsOverflowed  int64 `json:"runs_overflowed"`
	TicksRun        int64 `json:"ticks_run"`
	SetupsRun       int64 `json:"setups_run"`
	InitialInjected int64 `json:"initial_injected"`

	// Graph and messages (recorded live via Hooks)
	NodesAdded        int64            `json:"nodes_added"`
	Connects          int64            `json:"connects"`
	MessagesSent      int64            `json:"messages_sent"`
	MessagesDelivered int64            `json:"messages_delivered"`
	SentByComponent   map[string]int64 `json:"sent_by_component"`

	// Queue (absorbed from network.Stats)
	Nodes            int   `json:"nodes"`
	QueuePending     int   `json:"queue_pending"`
	QueuePeak        int   `json:"queue_peak"`
	QueueCapacity    int   `json:"queue_capacity"`
	UnconnectedSends int64 `json:"unconnected_sends"`
	Overflows        int64 `json:"overflows"`
	DeliveryFaults   int64 `json:"delivery_faults"`

	// Protocol (absorbed from ipc.StreamStats)
	ProtocolBytes    int64 `json:"protocol_bytes"`
	CommandsApplied  int64 `json:"commands_applied"`
	CommandsRejected int64 `json:"commands_rejected"`
	ProtocolErrors   int64 `json:"protocol_errors"`
	Resyncs          int64 `json:"resyncs"`

	// Dimensions (informational, set at construction)
	RunID string `json:"run_id"`
	Graph string `json:"graph,omitempty"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Run lifecycle
	runsStarted     int64
	runsCompleted   int64
	runsGraphError  int64
	runsFaulted     int64
	runsOverflowed  int64
	ticksRun        int64
	setupsRun       int64
	initialInjected int64

	// Hooks
	nodesAdded        int64
	connects          int64
	messagesSent      int64
	messagesDelivered int64
	sentByComponent   map[string]int64
	typeName          func(types.ComponentType) string

	// Absorbed
	engine network.Stats
	stream ipc.StreamStats

	// Dimensions
	runID string
	graph string
}

// NewCollector creates a Collector with dimension labels. graph may be empty.
func NewCollector(runID, graph string) *Collector {
	return &Collector{
		sentByComponent: make(map[string]int64),
		runID:           runID,
		graph:           graph,
	}
}

// SetTypeNames sets the function used to label per-component counters.
// Without it, component types are labeled by number.
func (c *Collector) SetTypeNames(name func(types.ComponentType) string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.typeName = name
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// RecordOutcome records the final outcome of a run.
func (c *Collector) RecordOutcome(status types.OutcomeStatus) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case types.OutcomeCompleted:
		c.runsCompleted++
	case types.OutcomeGraphError:
		c.runsGraphError++
	case types.OutcomeRuntimeFault:
		c.runsFaulted++
	case types.OutcomeQueueOverflow:
		c.runsOverflowed++
	}
}

// IncTick records a completed scheduler tick.
func (c *Collector) IncTick() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ticksRun++
	c.mu.Unlock()
}

// IncSetup records a completed setup pass.
func (c *Collector) IncSetup() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.setupsRun++
	c.mu.Unlock()
}

// AddInitial records n initial packets injected into the graph.
func (c *Collector) AddInitial(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.initialInjected += int64(n)
	c.mu.Unlock()
}

// --- Hooks ---

// Hooks returns network hooks that feed this collector.
// A nil collector returns empty hooks.
func (c *Collector) Hooks() network.Hooks {
	if c == nil {
		return network.Hooks{}
	}
	return network.Hooks{
		OnSend: func(_ int, _ network.Message, sender network.Component, _ types.Port) {
			c.mu.Lock()
			c.messagesSent++
			if sender != nil {
				c.sentByComponent[c.labelLocked(sender.(interface{ ComponentType() types.ComponentType }).ComponentType())]++
			}
			c.mu.Unlock()
		},
		OnDeliver: func(int, network.Message) {
			c.mu.Lock()
			c.messagesDelivered++
			c.mu.Unlock()
		},
		OnConnect: func(network.Component, types.Port, network.Component, types.Port) {
			c.mu.Lock()
			c.connects++
			c.mu.Unlock()
		},
		OnAddNode: func(network.Component) {
			c.mu.Lock()
			c.nodesAdded++
			c.mu.Unlock()
		},
	}
}

func (c *Collector) labelLocked(t types.ComponentType) string {
	if c.typeName != nil {
		if name := c.typeName(t); name != "" {
			return name
		}
	}
	return t.String()
}

// --- Absorbed ---

// AbsorbNetworkStats copies queue and delivery counters from an engine snapshot.
// Safe to call repeatedly; the latest snapshot wins.
func (c *Collector) AbsorbNetworkStats(s network.Stats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.engine = s
	c.mu.Unlock()
}

// AbsorbStreamStats copies protocol counters from a streamer snapshot.
// Safe to call repeatedly; the latest snapshot wins.
func (c *Collector) AbsorbStreamStats(s ipc.StreamStats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sent := make(map[string]int64, len(c.sentByComponent))
	for k, v := range c.sentByComponent {
		sent[k] = v
	}

	return Snapshot{
		RunsStarted:     c.runsStarted,
		RunsCompleted:   c.runsCompleted,
		RunsGraphError:  c.runsGraphError,
		RunsFaulted:     c.runsFaulted,
		RunsOverflowed:  c.runsOverflowed,
		TicksRun:        c.ticksRun,
		SetupsRun:       c.setupsRun,
		InitialInjected: c.initialInjected,

		NodesAdded:        c.nodesAdded,
		Connects:          c.connects,
		MessagesSent:      c.messagesSent,
		MessagesDelivered: c.messagesDelivered,
		SentByComponent:   sent,

		Nodes:            c.engine.Nodes,
		QueuePending:     c.engine.Pending,
		QueuePeak:        c.engine.PeakPending,
		QueueCapacity:    c.engine.Capacity,
		UnconnectedSends: c.engine.UnconnectedSends,
		Overflows:        c.engine.Overflows,
		DeliveryFaults:   c.engine.Faults,

		ProtocolBytes:    c.stream.Bytes,
		CommandsApplied:  c.stream.Commands - c.stream.Rejected,
		CommandsRejected: c.stream.Rejected,
		ProtocolErrors:   c.stream.ProtocolErrors,
		Resyncs:          c.stream.Resyncs,

		RunID: c.runID,
		Graph: c.graph,
	}
}
