package workflow

import (
	"context"
	"fmt"
	"sort"

	"quill/internal/document"
)

// Canonical stage names.
const (
	StageUnderstanding   = "understanding"
	StageContent         = "content"
	StageFormatting      = "formatting"
	StageDataIntegration = "data_integration"
	StageExecution       = "execution"
)

// StageResult is what a stage hands back: partial state outputs plus the
// operations it proposes. Stages never touch the document directly.
type StageResult struct {
	Outputs    map[string]any
	Operations []document.Operation
}

// StageFunc transforms shared state into a stage result. Implementations
// must be side-effect-free with respect to the document.
type StageFunc func(ctx context.Context, state *State) (StageResult, error)

// Stage is a named processing step with a declared set of output keys. The
// declared keys let routing-table validation prove that concurrent stages
// write disjoint state.
type Stage struct {
	name    string
	outputs []string
	run     StageFunc
}

// NewStage creates a stage. The outputs list declares every shared-state key
// the stage may write.
func NewStage(name string, outputs []string, run StageFunc) Stage {
	return Stage{name: name, outputs: outputs, run: run}
}

// Name returns the stage name.
func (s Stage) Name() string { return s.name }

// OutputKeys returns the declared output keys.
func (s Stage) OutputKeys() []string { return s.outputs }

// Run executes the stage.
func (s Stage) Run(ctx context.Context, state *State) (StageResult, error) {
	return s.run(ctx, state)
}

// Registry is the ordered catalog of named stages.
type Registry struct {
	stages map[string]Stage
	order  []string
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds a stage. Duplicate names are a configuration error.
func (r *Registry) Register(stage Stage) error {
	if stage.name == "" {
		return fmt.Errorf("stage name is required")
	}
	if stage.run == nil {
		return fmt.Errorf("stage %q has no run function", stage.name)
	}
	if _, exists := r.stages[stage.name]; exists {
		return fmt.Errorf("stage %q already registered", stage.name)
	}
	r.stages[stage.name] = stage
	r.order = append(r.order, stage.name)
	return nil
}

// Get returns a registered stage by name.
func (r *Registry) Get(name string) (Stage, bool) {
	stage, ok := r.stages[name]
	return stage, ok
}

// Names returns all registered stage names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// SortedNames returns all registered stage names sorted alphabetically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
