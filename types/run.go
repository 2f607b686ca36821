package types

import (
	"errors"
	"regexp"
)

// RunMeta identifies a single execution of a graph.
type RunMeta struct {
	// RunID is the run identifier. Must be unique per execution.
	RunID string
	// Graph is the graph name, taken from the graph definition or image.
	// Empty when the graph arrives as a raw protocol stream.
	Graph string
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// Validate checks the run identity:
//   - run_id is non-empty
//   - run_id contains only letters, digits, '.', '_', ':' and '-'
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if !runIDPattern.MatchString(r.RunID) {
		return errors.New("run_id contains invalid characters")
	}
	return nil
}
