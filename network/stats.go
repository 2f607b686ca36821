package network

// Stats is a point-in-time snapshot of engine counters.
//
// Counters survive Reset so a long-lived process can report totals across
// graph reloads; Nodes, Pending and PeakPending describe the current graph.
type Stats struct {
	// Nodes is the number of registered components.
	Nodes int
	// Pending is the number of queued messages.
	Pending int
	// PeakPending is the largest queue depth observed since the last Reset.
	PeakPending int
	// Capacity is the number of messages the queue can hold.
	Capacity int

	// Sent is the number of messages enqueued.
	Sent int64
	// Delivered is the number of messages handed to Process.
	Delivered int64
	// UnconnectedSends counts sends on ports with no connection.
	UnconnectedSends int64
	// Overflows counts messages rejected by a full queue.
	Overflows int64
	// Faults counts delivery faults.
	Faults int64
	// Connects counts successful Connect calls.
	Connects int64
	// Setups is the number of completed RunSetup calls.
	Setups int64
	// Ticks is the number of completed RunTick calls.
	Ticks int64
	// Resets is the number of Reset calls.
	Resets int64
}
