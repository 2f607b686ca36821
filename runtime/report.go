package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/metrics"
	"github.com/pithecene-io/tickflow/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID      string              `json:"run_id"`
	Graph      string              `json:"graph,omitempty"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`
	Ticks      int64               `json:"ticks"`
	Initial    int                 `json:"initial_packets"`

	Engine   *ReportEngine     `json:"engine"`
	Protocol *ReportProtocol   `json:"protocol"`
	Metrics  *metrics.Snapshot `json:"metrics,omitempty"`

	Pins          []board.PinState `json:"pins,omitempty"`
	Serial        string           `json:"serial_output,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	ErrorsDropped int              `json:"errors_dropped,omitempty"`
}

// ReportEngine holds engine stats in the report.
type ReportEngine struct {
	Nodes            int   `json:"nodes"`
	QueueCapacity    int   `json:"queue_capacity"`
	QueuePending     int   `json:"queue_pending"`
	QueuePeak        int   `json:"queue_peak"`
	Sent             int64 `json:"sent"`
	Delivered        int64 `json:"delivered"`
	UnconnectedSends int64 `json:"unconnected_sends"`
	Overflows        int64 `json:"overflows"`
	Faults           int64 `json:"faults"`
	Resets           int64 `json:"resets"`
}

// ReportProtocol holds streamer stats in the report.
type ReportProtocol struct {
	State          string `json:"state"`
	Bytes          int64  `json:"bytes"`
	Commands       int64  `json:"commands"`
	Rejected       int64  `json:"rejected"`
	ProtocolErrors int64  `json:"protocol_errors"`
	Resyncs        int64  `json:"resyncs"`
	Discarded      int64  `json:"discarded"`
}

// BoardState is the final device state included in a report.
type BoardState struct {
	Pins   []board.PinState
	Serial []byte
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// snap and dev may be nil. The exitCode is the process exit code that will be
// returned to the caller.
func BuildRunReport(result *RunResult, snap *metrics.Snapshot, dev *BoardState, exitCode int) *RunReport {
	e, s := result.Engine, result.Stream
	report := &RunReport{
		RunID:      result.RunMeta.RunID,
		Graph:      result.RunMeta.Graph,
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		Ticks:      result.Ticks,
		Initial:    result.Initial,
		Engine: &ReportEngine{
			Nodes:            e.Nodes,
			QueueCapacity:    e.Capacity,
			QueuePending:     e.Pending,
			QueuePeak:        e.PeakPending,
			Sent:             e.Sent,
			Delivered:        e.Delivered,
			UnconnectedSends: e.UnconnectedSends,
			Overflows:        e.Overflows,
			Faults:           e.Faults,
			Resets:           e.Resets,
		},
		Protocol: &ReportProtocol{
			State:          s.State.String(),
			Bytes:          s.Bytes,
			Commands:       s.Commands,
			Rejected:       s.Rejected,
			ProtocolErrors: s.ProtocolErrors,
			Resyncs:        s.Resyncs,
			Discarded:      s.Discarded,
		},
		Metrics:       snap,
		Errors:        result.Errors,
		ErrorsDropped: result.ErrorsDropped,
	}

	if dev != nil {
		report.Pins = dev.Pins
		report.Serial = string(dev.Serial)
	}

	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer (for testing).
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
