// Package workflow defines the processing stages, the shared state threaded
// through them, and the router that selects a stage plan per complexity
// class.
package workflow

import (
	"fmt"

	"quill/internal/document"
	"quill/internal/types"
)

// State is the mutable accumulator threaded through one pipeline run. It is
// exclusively owned by the executor for the duration of the request: stages
// read it and return partial outputs, and only the executor merges those
// outputs between stage groups.
type State struct {
	Request  types.Request
	Snapshot types.ContextSnapshot
	Class    types.ComplexityClass

	outputs    map[string]any
	pendingOps []document.Operation
}

// NewState creates the shared state for one request.
func NewState(req types.Request, snapshot types.ContextSnapshot, class types.ComplexityClass) *State {
	return &State{
		Request:  req,
		Snapshot: snapshot,
		Class:    class,
		outputs:  make(map[string]any),
	}
}

// Value returns a previously merged stage output.
func (s *State) Value(key string) (any, bool) {
	v, ok := s.outputs[key]
	return v, ok
}

// Merge folds stage outputs into the state key-wise. Two stages writing the
// same key is a configuration error that routing-table validation must have
// prevented; it is asserted here defensively.
func (s *State) Merge(outputs map[string]any) error {
	for key, value := range outputs {
		if _, exists := s.outputs[key]; exists {
			return fmt.Errorf("shared state key collision on %q", key)
		}
		s.outputs[key] = value
	}
	return nil
}

// AppendOperations adds stage-proposed operations to the pending batch.
func (s *State) AppendOperations(ops []document.Operation) {
	s.pendingOps = append(s.pendingOps, ops...)
}

// PendingOperations returns the operations accumulated so far, in emission
// order.
func (s *State) PendingOperations() []document.Operation {
	return s.pendingOps
}
