package document

import (
	"context"
	"fmt"
	"time"

	"quill/internal/logging"
	"quill/internal/observability"
	"quill/internal/recovery"
)

// Executor applies operation batches to the host document atomically. If any
// operation fails, the already-applied prefix is rolled back so the document
// is left exactly as it was before Apply was called.
type Executor struct {
	model   Model
	journal *Journal
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewExecutor creates an operation executor bound to a document model.
func NewExecutor(model Model, journal *Journal, logger logging.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		model:   model,
		journal: journal,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

// Journal returns the executor's undo journal.
func (e *Executor) Journal() *Journal { return e.journal }

// Apply executes ops in list order as one atomic batch keyed by requestID.
// On failure at operation k the inverses of operations 1..k-1 are applied in
// reverse order before the error is returned. A failed rollback escalates to
// a recovery.RollbackError and flags the batch unrecoverable.
//
// Cancellation is refused once Apply has begun: the batch runs on a context
// detached from the caller's, so a cancel arriving mid-batch cannot fail an
// operation, or worse its inverses, and strand the document half-applied.
// The batch either fully applies or fully rolls back.
func (e *Executor) Apply(ctx context.Context, requestID string, ops []Operation) (*AppliedBatch, error) {
	ctx = context.WithoutCancel(ctx)
	batch := &AppliedBatch{
		BatchID:   requestID,
		RequestID: requestID,
		AppliedAt: time.Now(),
	}

	for i, op := range ops {
		if err := e.model.ApplyOperation(ctx, op); err != nil {
			applyErr := recovery.NewApplyError(i, err)
			e.logger.Warn("batch %s: %v, rolling back %d operations", requestID, applyErr, i)
			if rbErr := e.rollback(ctx, batch, applyErr); rbErr != nil {
				return nil, rbErr
			}
			e.metrics.ObserveRollback()
			return nil, applyErr
		}

		inverse, err := e.model.InvertOperation(op)
		if err != nil {
			// An applied operation we cannot invert would leave the batch
			// un-undoable; treat it like an apply failure and unwind.
			applyErr := recovery.NewApplyError(i, fmt.Errorf("inversion failed: %w", err))
			if rbErr := e.rollback(ctx, batch, applyErr); rbErr != nil {
				return nil, rbErr
			}
			e.metrics.ObserveRollback()
			return nil, applyErr
		}

		batch.Operations = append(batch.Operations, op)
		batch.Inverses = append(batch.Inverses, inverse)
	}

	if err := e.journal.Record(batch); err != nil {
		return nil, err
	}
	e.model.RegisterUndoEntry(batch)
	e.logger.Info("batch %s applied: %d operations", requestID, len(batch.Operations))
	return batch, nil
}

// rollback unwinds the applied prefix of a batch in reverse order. The
// caller passes Apply's detached context, so inverses keep applying even
// while the surrounding request is torn down. The first failing inverse
// escalates to a fatal consistency error.
func (e *Executor) rollback(ctx context.Context, batch *AppliedBatch, cause error) error {
	for i := len(batch.Inverses) - 1; i >= 0; i-- {
		if err := e.model.ApplyOperation(ctx, batch.Inverses[i]); err != nil {
			batch.Unrecoverable = true
			e.metrics.ObserveRollbackFailure()
			e.logger.Error("batch %s: rollback failed at inverse %d: %v", batch.BatchID, i, err)
			return recovery.NewRollbackError(batch.BatchID, i, err, cause)
		}
	}
	return nil
}

// Undo replays the stored inverses of a batch in reverse order.
func (e *Executor) Undo(ctx context.Context, batchID string) error {
	batch, ok := e.journal.Get(batchID)
	if !ok {
		return fmt.Errorf("unknown batch %s", batchID)
	}
	if batch.Unrecoverable {
		return fmt.Errorf("batch %s is unrecoverable, refusing undo", batchID)
	}

	for i := len(batch.Inverses) - 1; i >= 0; i-- {
		if err := e.model.ApplyOperation(ctx, batch.Inverses[i]); err != nil {
			return fmt.Errorf("undo of batch %s failed at inverse %d: %w", batchID, i, err)
		}
	}
	e.logger.Info("batch %s undone", batchID)
	return nil
}

// Redo re-applies the stored operations of a previously undone batch.
func (e *Executor) Redo(ctx context.Context, batchID string) error {
	batch, ok := e.journal.Get(batchID)
	if !ok {
		return fmt.Errorf("unknown batch %s", batchID)
	}
	if batch.Unrecoverable {
		return fmt.Errorf("batch %s is unrecoverable, refusing redo", batchID)
	}

	for i, op := range batch.Operations {
		if err := e.model.ApplyOperation(ctx, op); err != nil {
			return fmt.Errorf("redo of batch %s failed at operation %d: %w", batchID, i, err)
		}
	}
	e.logger.Info("batch %s redone", batchID)
	return nil
}
