package document

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeSummary describes the net effect of an applied batch on the document
// text, for display in the final result event.
type ChangeSummary struct {
	Added   int
	Deleted int
	Preview string
}

// Summarize diffs the document text before and after a batch and returns
// character-level change counts plus a short textual preview.
func Summarize(before, after string) ChangeSummary {
	if before == after {
		return ChangeSummary{Preview: "no text changes"}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var added, deleted int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}

	return ChangeSummary{
		Added:   added,
		Deleted: deleted,
		Preview: fmt.Sprintf("+%d/-%d chars", added, deleted),
	}
}
