// Package pipeline executes classified requests: it runs the routed stage
// plan group by group, merges stage outputs into shared state, applies the
// accumulated operation batch atomically, and streams progress back to the
// caller.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"quill/internal/async"
	"quill/internal/document"
	"quill/internal/logging"
	"quill/internal/observability"
	"quill/internal/recovery"
	"quill/internal/types"
	"quill/internal/workflow"
)

// Status is the lifecycle state of one request run.
type Status int

const (
	// StatusQueued - accepted, waiting for a worker.
	StatusQueued Status = iota
	// StatusRunning - stage groups executing.
	StatusRunning
	// StatusCompleted - all stages ran and the batch applied.
	StatusCompleted
	// StatusFailed - a stage, apply, or rollback failure ended the run.
	StatusFailed
	// StatusCancelled - cancelled at a group boundary before completion.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	RequestID string
	Class     types.ComplexityClass
	Status    Status
	Batch     *document.AppliedBatch
	Summary   document.ChangeSummary
	Delayed   bool
	Err       error
}

// textProvider is implemented by document models that can expose their full
// text, enabling a character-level change summary in the final result.
type textProvider interface {
	Content() string
}

// DefaultGroupDeadline bounds how long one stage group may run before its
// remaining stages are abandoned.
const DefaultGroupDeadline = 10 * time.Second

// Executor runs one request through its workflow path. Stages within a
// group run concurrently; groups run strictly in order. Outputs are merged
// into shared state only between groups, in the group's declared stage
// order, so stages never observe each other's partial writes. A group that
// outlives the group deadline is abandoned: its stages keep running on
// their goroutines but their output is discarded and the run fails.
type Executor struct {
	registry      *workflow.Registry
	model         document.Model
	docs          *document.Executor
	groupDeadline time.Duration
	tracer        *observability.TracerProvider
	logger        logging.Logger
	metrics       *observability.Metrics
}

// NewExecutor creates a pipeline executor. A non-positive groupDeadline
// selects DefaultGroupDeadline.
func NewExecutor(registry *workflow.Registry, model document.Model, docs *document.Executor,
	groupDeadline time.Duration, tracer *observability.TracerProvider,
	logger logging.Logger, metrics *observability.Metrics) *Executor {
	if groupDeadline <= 0 {
		groupDeadline = DefaultGroupDeadline
	}
	return &Executor{
		registry:      registry,
		model:         model,
		docs:          docs,
		groupDeadline: groupDeadline,
		tracer:        tracer,
		logger:        logging.OrNop(logger),
		metrics:       metrics,
	}
}

// Run executes req along path and reports progress through publish. The
// returned result always carries a terminal status; publish has already seen
// the matching final or error event by the time Run returns.
func (e *Executor) Run(ctx context.Context, req types.Request, snapshot types.ContextSnapshot,
	class types.ComplexityClass, path workflow.Path, publish func(types.StreamEvent)) *Result {

	started := time.Now()
	e.metrics.RequestStarted()
	defer e.metrics.RequestFinished()

	ctx, span := e.tracer.StartRequestSpan(ctx, req.ID, class.String())
	defer span.End()

	result := &Result{RequestID: req.ID, Class: class, Status: StatusRunning}
	state := workflow.NewState(req, snapshot, class)
	totalGroups := len(path.Groups)

	var textBefore string
	tp, hasText := e.model.(textProvider)
	if hasText {
		textBefore = tp.Content()
	}

	publish(types.NewAgentStatusEvent(req.ID, "router", "running"))

	for groupIndex, group := range path.Groups {
		// Cancellation takes effect only between groups: a group that has
		// started runs to completion, but its outputs are discarded.
		if err := ctx.Err(); err != nil {
			return e.finishCancelled(result, publish)
		}

		if err := e.runGroup(ctx, state, groupIndex, group); err != nil {
			if ctx.Err() != nil {
				return e.finishCancelled(result, publish)
			}
			return e.finishFailed(result, err, publish)
		}

		if err := ctx.Err(); err != nil {
			return e.finishCancelled(result, publish)
		}

		publish(types.NewProgressEvent(req.ID, groupIndex+1, totalGroups, []string(group)))
	}

	// Last chance for cancellation: once Apply starts, the batch is
	// committed to either applying fully or rolling back fully.
	if err := ctx.Err(); err != nil {
		return e.finishCancelled(result, publish)
	}

	ops := state.PendingOperations()
	batch, err := e.docs.Apply(ctx, req.ID, ops)
	if err != nil {
		return e.finishFailed(result, err, publish)
	}
	result.Batch = batch

	if hasText {
		result.Summary = document.Summarize(textBefore, tp.Content())
	} else {
		result.Summary = document.ChangeSummary{Preview: fmt.Sprintf("%d operations applied", len(ops))}
	}

	elapsed := time.Since(started)
	if elapsed > class.ResponseBudget() {
		result.Delayed = true
		e.metrics.ObserveDelayed(class.String())
		e.logger.Info("request %s exceeded %s budget: took %v", req.ID, class, elapsed)
	}

	result.Status = StatusCompleted
	e.metrics.ObserveRequest(class.String(), "completed")
	publish(types.NewFinalResultEvent(req.ID, result.Summary.Preview, len(ops), result.Delayed))
	e.logger.Info("request %s completed in %v: %s", req.ID, elapsed, result.Summary.Preview)
	return result
}

// runGroup executes the stages of one group concurrently and merges their
// results afterwards, in the group's declared order. The wait is bounded by
// the group deadline: stages that ignore their context cannot hold the
// group, they are abandoned and their output never merges.
func (e *Executor) runGroup(ctx context.Context, state *workflow.State, groupIndex int, group workflow.Group) error {
	groupCtx, span := e.tracer.StartGroupSpan(ctx, groupIndex, []string(group))
	defer span.End()

	deadlineCtx, cancelGroup := context.WithTimeout(groupCtx, e.groupDeadline)
	defer cancelGroup()

	results := make([]workflow.StageResult, len(group))
	g, stageCtx := errgroup.WithContext(deadlineCtx)
	for i, name := range group {
		stage, ok := e.registry.Get(name)
		if !ok {
			// Routing validation makes this unreachable; keep the error
			// explicit anyway.
			return fmt.Errorf("stage %q not registered", name)
		}
		g.Go(func() error {
			stageStart := time.Now()
			res, err := stage.Run(stageCtx, state)
			if err != nil {
				e.metrics.ObserveStage(name, "error", time.Since(stageStart))
				e.metrics.ObserveStageFailure(name)
				return recovery.NewStageError(name, err)
			}
			e.metrics.ObserveStage(name, "ok", time.Since(stageStart))
			results[i] = res
			return nil
		})
	}

	wait := make(chan error, 1)
	async.Go(e.logger, fmt.Sprintf("group-%d-wait", groupIndex), func() { wait <- g.Wait() })

	timer := time.NewTimer(e.groupDeadline)
	defer timer.Stop()
	select {
	case err := <-wait:
		if err != nil {
			return err
		}
	case <-timer.C:
		cancelGroup()
		e.logger.Warn("group %d (%v) exceeded its %v deadline, abandoning",
			groupIndex, []string(group), e.groupDeadline)
		return fmt.Errorf("group %d exceeded %v deadline: %w",
			groupIndex, e.groupDeadline, context.DeadlineExceeded)
	}

	for i, res := range results {
		if err := state.Merge(res.Outputs); err != nil {
			return fmt.Errorf("group %d stage %q: %w", groupIndex, group[i], err)
		}
		state.AppendOperations(res.Operations)
	}
	return nil
}

func (e *Executor) finishFailed(result *Result, err error, publish func(types.StreamEvent)) *Result {
	result.Status = StatusFailed
	result.Err = err
	e.metrics.ObserveRequest(result.Class.String(), "failed")
	e.logger.Warn("request %s failed: %v", result.RequestID, err)
	publish(types.NewErrorEvent(result.RequestID, err.Error(), true))
	return result
}

func (e *Executor) finishCancelled(result *Result, publish func(types.StreamEvent)) *Result {
	result.Status = StatusCancelled
	result.Err = context.Canceled
	e.metrics.ObserveRequest(result.Class.String(), "cancelled")
	e.logger.Info("request %s cancelled", result.RequestID)
	publish(types.NewErrorEvent(result.RequestID, "request cancelled", true))
	return result
}
