// Package types holds the plain data shared across the engine: requests,
// document snapshots, complexity classes, and stream events. It has no
// behavior beyond constructors and conversions.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ComplexityClass determines how much processing a request warrants.
type ComplexityClass int

const (
	// Simple - single-intent edits (formatting, short insertions).
	Simple ComplexityClass = iota
	// Moderate - content generation with a single scope.
	Moderate
	// Complex - multi-intent requests or anything needing external data.
	Complex
)

func (c ComplexityClass) String() string {
	switch c {
	case Simple:
		return "simple"
	case Moderate:
		return "moderate"
	case Complex:
		return "complex"
	default:
		return "unknown"
	}
}

// ParseComplexityClass maps a wire-level class string back to a class.
// Unknown strings map to Complex, matching the classifier's safety default.
func ParseComplexityClass(s string) ComplexityClass {
	switch s {
	case "simple":
		return Simple
	case "moderate":
		return Moderate
	case "complex":
		return Complex
	default:
		return Complex
	}
}

// ResponseBudget returns the soft response-time budget for the class.
// Exceeding it tags the response as delayed for telemetry; it never aborts.
func (c ComplexityClass) ResponseBudget() time.Duration {
	switch c {
	case Simple:
		return 2 * time.Second
	case Moderate:
		return 4 * time.Second
	default:
		return 5 * time.Second
	}
}

// Request is a natural-language editing request. Immutable once submitted.
type Request struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRequest creates a request with a fresh correlation id.
func NewRequest(text string) Request {
	return Request{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Range is a half-open [Start, End) span of character offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of characters covered by the range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// ContextSnapshot is an immutable read-only view of the host document,
// captured once at submission time. Stages never touch the live document;
// they only see this snapshot and propose operations.
type ContextSnapshot struct {
	DocumentRef      string            `json:"document_ref"`
	Cursor           int               `json:"cursor"`
	Selection        *Range            `json:"selection,omitempty"`
	SelectedText     string            `json:"selected_text,omitempty"`
	StructureSummary string            `json:"structure_summary,omitempty"`
	FormattingState  map[string]string `json:"formatting_state,omitempty"`
}

// HasSelection reports whether the snapshot carries a non-empty selection.
func (s ContextSnapshot) HasSelection() bool {
	return s.Selection != nil && s.Selection.Len() > 0
}
