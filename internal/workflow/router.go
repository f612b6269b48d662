package workflow

import (
	"fmt"
	"strings"

	"quill/internal/classify"
	"quill/internal/types"
)

// Router selects a workflow path for a classified request. The class table
// is static; within a class the router may specialize (a Simple formatting
// request skips content generation entirely, a Simple insertion skips
// formatting too).
type Router struct {
	registry *Registry
	table    map[types.ComplexityClass]Path

	simpleFormatting Path
	simpleInsertion  Path
}

// NewRouter creates a router over the given registry and class table. Every
// path, including the Simple specializations, is validated here so routing
// misconfiguration fails at startup.
func NewRouter(registry *Registry, table map[types.ComplexityClass]Path) (*Router, error) {
	for _, class := range []types.ComplexityClass{types.Simple, types.Moderate, types.Complex} {
		path, ok := table[class]
		if !ok {
			return nil, fmt.Errorf("routing table has no path for class %s", class)
		}
		if err := path.Validate(registry); err != nil {
			return nil, fmt.Errorf("path for class %s: %w", class, err)
		}
	}

	r := &Router{
		registry:         registry,
		table:            table,
		simpleFormatting: Path{Groups: []Group{{StageFormatting}, {StageExecution}}},
		simpleInsertion:  Path{Groups: []Group{{StageContent}, {StageExecution}}},
	}
	if err := r.simpleFormatting.Validate(registry); err != nil {
		return nil, fmt.Errorf("simple formatting specialization: %w", err)
	}
	if err := r.simpleInsertion.Validate(registry); err != nil {
		return nil, fmt.Errorf("simple insertion specialization: %w", err)
	}
	return r, nil
}

// Route returns the workflow path for a class. For Simple requests the text
// narrows the path further.
func (r *Router) Route(class types.ComplexityClass, text string) Path {
	if class == types.Simple {
		lower := strings.ToLower(text)
		if classify.HasFormattingIntent(lower) && !classify.HasContentIntent(lower) {
			return r.simpleFormatting
		}
		if classify.HasInsertionIntent(lower) && !classify.HasContentIntent(lower) {
			return r.simpleInsertion
		}
	}
	return r.table[class]
}

// DefaultTable returns the canonical class-to-path table for the builtin
// stages.
func DefaultTable() map[types.ComplexityClass]Path {
	return map[types.ComplexityClass]Path{
		types.Simple: {Groups: []Group{
			{StageContent},
			{StageFormatting},
			{StageExecution},
		}},
		types.Moderate: {Groups: []Group{
			{StageUnderstanding},
			{StageContent, StageFormatting},
			{StageExecution},
		}},
		types.Complex: {Groups: []Group{
			{StageUnderstanding},
			{StageContent, StageDataIntegration},
			{StageFormatting},
			{StageExecution},
		}},
	}
}
