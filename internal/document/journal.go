package document

import (
	"fmt"
	"sync"
	"time"
)

// AppliedBatch records one atomically applied operation batch together with
// the inverses needed to undo it. Batches map 1:1 to request ids.
type AppliedBatch struct {
	BatchID    string
	RequestID  string
	Operations []Operation
	Inverses   []Operation
	AppliedAt  time.Time

	// Unrecoverable is set when a rollback failed and the document state is
	// indeterminate. Undo/Redo refuse such batches.
	Unrecoverable bool
}

// Journal is the process-wide, append-only store of applied batches. Access
// is serialized; entries are retained until the host discards them.
type Journal struct {
	mu      sync.Mutex
	entries map[string]*AppliedBatch
	order   []string
}

// NewJournal creates an empty undo journal.
func NewJournal() *Journal {
	return &Journal{entries: make(map[string]*AppliedBatch)}
}

// Record appends a batch to the journal. Recording the same batch id twice
// is a programming error.
func (j *Journal) Record(batch *AppliedBatch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.entries[batch.BatchID]; exists {
		return fmt.Errorf("batch %s already journaled", batch.BatchID)
	}
	j.entries[batch.BatchID] = batch
	j.order = append(j.order, batch.BatchID)
	return nil
}

// Get returns the journaled batch for the given id.
func (j *Journal) Get(batchID string) (*AppliedBatch, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	batch, ok := j.entries[batchID]
	return batch, ok
}

// MarkUnrecoverable flags a batch whose rollback failed.
func (j *Journal) MarkUnrecoverable(batchID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if batch, ok := j.entries[batchID]; ok {
		batch.Unrecoverable = true
	}
}

// Len returns the number of journaled batches.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.order)
}
