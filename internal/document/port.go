package document

import (
	"context"

	"quill/internal/types"
)

// Model is the document-model collaborator consumed by the engine. The host
// document implements it; the engine never mutates the document through any
// other path.
type Model interface {
	// ApplyOperation executes one primitive edit. Blocking and synchronous
	// from the engine's point of view.
	ApplyOperation(ctx context.Context, op Operation) error

	// InvertOperation returns the operation that undoes op. Hosts may refine
	// the default inversion (e.g. when they track richer formatting state).
	InvertOperation(op Operation) (Operation, error)

	// CaptureSnapshot returns an immutable view of the current document state.
	CaptureSnapshot() types.ContextSnapshot

	// RegisterUndoEntry registers an applied batch with the host's native
	// undo stack. One entry per batch.
	RegisterUndoEntry(batch *AppliedBatch)
}
