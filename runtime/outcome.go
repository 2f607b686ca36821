package runtime

import (
	"fmt"

	"github.com/pithecene-io/tickflow/types"
)

// Exit codes of `tickflow run`, one per outcome status.
const (
	ExitCodeCompleted     = 0
	ExitCodeGraphError    = 1
	ExitCodeRuntimeFault  = 2
	ExitCodeQueueOverflow = 3
)

// ExitCode maps an outcome status to the process exit code.
// Unknown statuses map to ExitCodeRuntimeFault.
func ExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeCompleted:
		return ExitCodeCompleted
	case types.OutcomeGraphError:
		return ExitCodeGraphError
	case types.OutcomeQueueOverflow:
		return ExitCodeQueueOverflow
	default:
		return ExitCodeRuntimeFault
	}
}

// OutcomeInputs is what a finished run observed.
type OutcomeInputs struct {
	// SourceErr is the ingestion error, if the source failed.
	SourceErr error
	// Faults is the number of delivery faults.
	Faults int64
	// GraphErrors is the number of protocol, command and initial packet errors.
	GraphErrors int
	// Truncated is true when the source ended inside a frame.
	Truncated bool
	// Nodes is the number of components at the end of the run.
	Nodes int
	// Overflows is the number of messages rejected by a full queue.
	Overflows int64
	// StrictOverflow makes any overflow fail the run.
	StrictOverflow bool
	// Ticks is the number of ticks run.
	Ticks int64
}

// DetermineOutcome classifies a finished run.
//
// Precedence, highest first:
//  1. runtime fault: the source failed or a message had no target
//  2. graph error: the stream or its commands were rejected, the stream was
//     truncated, or no component was ever created
//  3. queue overflow: only with StrictOverflow
//  4. completed
func DetermineOutcome(in OutcomeInputs) *types.RunOutcome {
	switch {
	case in.SourceErr != nil:
		return &types.RunOutcome{
			Status:  types.OutcomeRuntimeFault,
			Message: fmt.Sprintf("graph source failed: %v", in.SourceErr),
		}
	case in.Faults > 0:
		return &types.RunOutcome{
			Status:  types.OutcomeRuntimeFault,
			Message: fmt.Sprintf("%d delivery fault(s)", in.Faults),
		}
	case in.GraphErrors > 0:
		return &types.RunOutcome{
			Status:  types.OutcomeGraphError,
			Message: fmt.Sprintf("%d graph error(s); the graph ran in its last valid state", in.GraphErrors),
		}
	case in.Truncated:
		return &types.RunOutcome{
			Status:  types.OutcomeGraphError,
			Message: "graph stream ended inside a frame",
		}
	case in.Nodes == 0:
		return &types.RunOutcome{
			Status:  types.OutcomeGraphError,
			Message: "graph stream created no components",
		}
	case in.StrictOverflow && in.Overflows > 0:
		return &types.RunOutcome{
			Status:  types.OutcomeQueueOverflow,
			Message: fmt.Sprintf("%d message(s) rejected by a full queue", in.Overflows),
		}
	default:
		return &types.RunOutcome{
			Status:  types.OutcomeCompleted,
			Message: fmt.Sprintf("ran %d tick(s) on %d component(s)", in.Ticks, in.Nodes),
		}
	}
}
