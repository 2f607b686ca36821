package types

// OutcomeStatus represents the final status of a run.
type OutcomeStatus string

const (
	// OutcomeCompleted indicates the run reached its tick limit or was stopped
	// cleanly with no graph or runtime errors.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeGraphError indicates protocol or graph mutation errors were
	// observed while loading the graph. The graph ran in its last valid state.
	OutcomeGraphError OutcomeStatus = "graph_error"
	// OutcomeRuntimeFault indicates a delivery fault or a source failure.
	OutcomeRuntimeFault OutcomeStatus = "runtime_fault"
	// OutcomeQueueOverflow indicates components hit the message queue limit
	// and the run was configured to treat that as a failure.
	OutcomeQueueOverflow OutcomeStatus = "queue_overflow"
)

// RunOutcome represents the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus `json:"status" msgpack:"status"`
	// Message is a human-readable description.
	Message string `json:"message" msgpack:"message"`
}
