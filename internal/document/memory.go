package document

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"quill/internal/types"
)

// MemoryDocument is an in-process document model. It backs the demo gateway
// and the engine's tests; production hosts supply their own Model.
type MemoryDocument struct {
	mu         sync.Mutex
	ref        string
	content    string
	formatting map[string]string
	objects    map[int]string
	undoStack  []*AppliedBatch
	dmp        *diffmatchpatch.DiffMatchPatch
}

// NewMemoryDocument creates a memory document with the given initial content.
func NewMemoryDocument(ref, content string) *MemoryDocument {
	return &MemoryDocument{
		ref:        ref,
		content:    content,
		formatting: make(map[string]string),
		objects:    make(map[int]string),
		dmp:        diffmatchpatch.New(),
	}
}

// Content returns the current document text.
func (d *MemoryDocument) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// ApplyOperation executes one primitive edit against the in-memory state.
func (d *MemoryDocument) ApplyOperation(_ context.Context, op Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch o := op.(type) {
	case InsertText:
		if o.Position < 0 || o.Position > len(d.content) {
			return fmt.Errorf("insert position %d out of bounds (len %d)", o.Position, len(d.content))
		}
		d.content = d.content[:o.Position] + o.Text + d.content[o.Position:]
		return nil

	case DeleteText:
		end := o.Position + len(o.Text)
		if o.Position < 0 || end > len(d.content) {
			return fmt.Errorf("delete range [%d,%d) out of bounds (len %d)", o.Position, end, len(d.content))
		}
		if d.content[o.Position:end] != o.Text {
			return fmt.Errorf("delete mismatch at %d: document does not contain expected text", o.Position)
		}
		d.content = d.content[:o.Position] + d.content[end:]
		return nil

	case ReplaceText:
		if o.Range.Start < 0 || o.Range.End > len(d.content) || o.Range.End < o.Range.Start {
			return fmt.Errorf("replace range [%d,%d) out of bounds (len %d)", o.Range.Start, o.Range.End, len(d.content))
		}
		region := d.content[o.Range.Start:o.Range.End]
		patches := d.dmp.PatchMake(o.Old, o.New)
		patched, applied := d.dmp.PatchApply(patches, region)
		for _, ok := range applied {
			if !ok {
				return fmt.Errorf("replace at [%d,%d): patch did not apply cleanly", o.Range.Start, o.Range.End)
			}
		}
		d.content = d.content[:o.Range.Start] + patched + d.content[o.Range.End:]
		return nil

	case FormatRange:
		key := formatKey(o.Attribute, o.Range)
		if o.Value == "" {
			delete(d.formatting, key)
		} else {
			d.formatting[key] = o.Value
		}
		return nil

	case CreateTable:
		if _, occupied := d.objects[o.Position]; occupied {
			return fmt.Errorf("object already present at %d", o.Position)
		}
		d.objects[o.Position] = fmt.Sprintf("table:%dx%d", o.Rows, o.Cols)
		return nil

	case CreateChart:
		if _, occupied := d.objects[o.Position]; occupied {
			return fmt.Errorf("object already present at %d", o.Position)
		}
		d.objects[o.Position] = fmt.Sprintf("chart:%s:%s", o.ChartType, o.DataRef)
		return nil

	case RemoveObject:
		if _, ok := d.objects[o.Position]; !ok {
			return fmt.Errorf("no object at %d", o.Position)
		}
		delete(d.objects, o.Position)
		return nil

	default:
		return fmt.Errorf("unsupported operation kind %v", op.Kind())
	}
}

// InvertOperation refines the default inversion with the document's tracked
// formatting state: a FormatRange emitted without Previous picks up the
// current attribute value so undo restores it.
func (d *MemoryDocument) InvertOperation(op Operation) (Operation, error) {
	if f, ok := op.(FormatRange); ok && f.Previous == "" {
		d.mu.Lock()
		f.Previous = d.formatting[formatKey(f.Attribute, f.Range)]
		d.mu.Unlock()
		return Invert(f)
	}
	return Invert(op)
}

// CaptureSnapshot returns an immutable view of the document. The structure
// summary is a digest of text, formatting, and objects so two snapshots are
// equal exactly when the document states are.
func (d *MemoryDocument) CaptureSnapshot() types.ContextSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	formatting := make(map[string]string, len(d.formatting))
	for k, v := range d.formatting {
		formatting[k] = v
	}

	return types.ContextSnapshot{
		DocumentRef:      d.ref,
		Cursor:           len(d.content),
		StructureSummary: d.digestLocked(),
		FormattingState:  formatting,
	}
}

// RegisterUndoEntry records the batch on the document's own undo stack.
func (d *MemoryDocument) RegisterUndoEntry(batch *AppliedBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.undoStack = append(d.undoStack, batch)
}

// UndoDepth returns the number of batches on the native undo stack.
func (d *MemoryDocument) UndoDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.undoStack)
}

func (d *MemoryDocument) digestLocked() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "text:%s;", d.content)

	formatKeys := make([]string, 0, len(d.formatting))
	for k := range d.formatting {
		formatKeys = append(formatKeys, k)
	}
	sort.Strings(formatKeys)
	for _, k := range formatKeys {
		fmt.Fprintf(h, "fmt:%s=%s;", k, d.formatting[k])
	}

	positions := make([]int, 0, len(d.objects))
	for pos := range d.objects {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for _, pos := range positions {
		fmt.Fprintf(h, "obj:%d=%s;", pos, d.objects[pos])
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func formatKey(attribute string, r types.Range) string {
	return fmt.Sprintf("%s@%d:%d", attribute, r.Start, r.End)
}
