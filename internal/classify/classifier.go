// Package classify maps a natural-language request plus a document snapshot
// to a complexity class. Classification is deterministic, pure, and total:
// it never fails, and ambiguity resolves to the most expensive class.
package classify

import (
	"strings"

	"quill/internal/types"
)

var formattingKeywords = []string{
	"bold", "italic", "underline", "strikethrough", "highlight",
	"font", "color", "align", "indent", "spacing", "capitalize",
	"format", "style", "heading",
}

var insertionKeywords = []string{
	"insert", "add", "append", "type", "put",
}

var contentKeywords = []string{
	"write", "draft", "compose", "summarize", "rewrite", "rephrase",
	"expand", "shorten", "improve", "translate", "continue", "fix",
}

var dataKeywords = []string{
	"chart", "graph", "table of", "import", "fetch", "data", "spreadsheet",
	"statistics", "figures", "from the web", "lookup",
}

var multiStepMarkers = []string{
	" then ", " and then ", " after that ", " finally ", "; ",
}

// Classifier implements the complexity classifier.
type Classifier struct{}

// New creates a classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify returns the complexity class for a request. Pure, no I/O.
//
// The heuristics are keyword and structure based: a single formatting or
// insertion intent over an existing selection is Simple; single-scope content
// generation is Moderate; implied external data, multiple chained intents, or
// anything unrecognized is Complex.
func (c *Classifier) Classify(text string, snapshot types.ContextSnapshot) types.ComplexityClass {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return types.Complex
	}

	if HasDataIntent(lower) {
		return types.Complex
	}
	if countMultiStep(lower) > 0 {
		return types.Complex
	}
	// Long requests tend to bundle several intents even without explicit
	// chaining markers. A selection bounds the scope, so selection-anchored
	// requests get more slack before escalating.
	longLimit := 160
	if snapshot.HasSelection() {
		longLimit = 240
	}
	if len(lower) > longLimit {
		return types.Complex
	}

	formatting := HasFormattingIntent(lower)
	insertion := HasInsertionIntent(lower)
	content := HasContentIntent(lower)

	switch {
	case formatting && !content:
		// A formatting request without generation is Simple even without a
		// selection; the formatting stage resolves the target range.
		return types.Simple
	case insertion && !content && len(lower) <= 80:
		return types.Simple
	case content && !formatting && !insertion:
		return types.Moderate
	case content:
		// Content generation combined with another intent.
		return types.Moderate
	default:
		// Nothing recognized: prefer correctness over speed.
		return types.Complex
	}
}

// HasFormattingIntent reports whether the lowercased text implies a
// formatting-only edit.
func HasFormattingIntent(lower string) bool {
	return containsAny(lower, formattingKeywords)
}

// HasInsertionIntent reports whether the lowercased text implies a plain
// insertion.
func HasInsertionIntent(lower string) bool {
	return containsAny(lower, insertionKeywords)
}

// HasContentIntent reports whether the lowercased text implies content
// generation.
func HasContentIntent(lower string) bool {
	return containsAny(lower, contentKeywords)
}

// HasDataIntent reports whether the lowercased text implies an external data
// need.
func HasDataIntent(lower string) bool {
	return containsAny(lower, dataKeywords)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countMultiStep(lower string) int {
	count := 0
	for _, marker := range multiStepMarkers {
		count += strings.Count(lower, marker)
	}
	return count
}
