// Package adapter defines the boundary for publishing run notifications.
//
// Adapters publish a RunCompletedEvent to a downstream system once a run
// has finished and its report is built. The CLI owns adapter lifecycle;
// users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/tickflow/runtime"
	"github.com/pithecene-io/tickflow/types"
)

// EventTypeRunCompleted is the only event type published today.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run finishes.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version" msgpack:"contract_version"`
	EventType       string `json:"event_type" msgpack:"event_type"`
	RunID           string `json:"run_id" msgpack:"run_id"`
	Graph           string `json:"graph,omitempty" msgpack:"graph,omitempty"`
	// Source is the location the protocol stream was read from.
	Source    string `json:"source" msgpack:"source"`
	Outcome   string `json:"outcome" msgpack:"outcome"` // completed, graph_error, ...
	Message   string `json:"message" msgpack:"message"`
	ExitCode  int    `json:"exit_code" msgpack:"exit_code"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"` // RFC 3339

	Ticks      int64 `json:"ticks" msgpack:"ticks"`
	Nodes      int   `json:"nodes" msgpack:"nodes"`
	Delivered  int64 `json:"delivered" msgpack:"delivered"`
	Overflows  int64 `json:"overflows" msgpack:"overflows"`
	Faults     int64 `json:"faults" msgpack:"faults"`
	ErrorCount int   `json:"error_count" msgpack:"error_count"`
	DurationMs int64 `json:"duration_ms" msgpack:"duration_ms"`
}

// NewRunCompletedEvent builds the event for a finished run.
func NewRunCompletedEvent(report *runtime.RunReport, source string, at time.Time) *RunCompletedEvent {
	ev := &RunCompletedEvent{
		ContractVersion: types.Version,
		EventType:       EventTypeRunCompleted,
		RunID:           report.RunID,
		Graph:           report.Graph,
		Source:          source,
		Outcome:         string(report.Outcome),
		Message:         report.Message,
		ExitCode:        report.ExitCode,
		Timestamp:       at.UTC().Format(time.RFC3339),
		Ticks:           report.Ticks,
		ErrorCount:      len(report.Errors) + report.ErrorsDropped,
		DurationMs:      report.DurationMs,
	}
	if e := report.Engine; e != nil {
		ev.Nodes = e.Nodes
		ev.Delivered = e.Delivered
		ev.Overflows = e.Overflows
		ev.Faults = e.Faults
	}
	return ev
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry. It doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry stops without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls attempt up to 1+retries times, sleeping base, 2*base, 4*base...
// between calls. It stops on success, on a Permanent error, or when ctx is
// done. The returned error wraps the last failure.
func Retry(ctx context.Context, retries int, base time.Duration, attempt func(context.Context) error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(base << (i - 1)):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("non-retriable error: %w", perm.err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
