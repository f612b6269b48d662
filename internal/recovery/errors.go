// Package recovery classifies failures and decides how the engine reacts:
// retry on the same transport, switch to the fallback transport, roll back a
// partially applied batch, or surface a terminal error.
package recovery

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// FailureClass enumerates the failure taxonomy. Every error the engine can
// observe maps to exactly one class.
type FailureClass int

const (
	// FailureTransientNetwork - connection blips; retry on the same transport.
	FailureTransientNetwork FailureClass = iota
	// FailureServerUnavailable - remote end down; switch to fallback transport.
	FailureServerUnavailable
	// FailureRateLimited - server pushback; back off, honoring retry-after.
	FailureRateLimited
	// FailureProtocolViolation - malformed traffic; terminal, surfaced to caller.
	FailureProtocolViolation
	// FailureOperationApply - document edit failed; triggers batch rollback.
	FailureOperationApply
	// FailureRollback - rollback itself failed; document state indeterminate.
	FailureRollback
	// FailureStage - a pipeline stage failed; request fails, document untouched.
	FailureStage
	// FailureUnknown - anything unmapped; treated as terminal.
	FailureUnknown
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransientNetwork:
		return "transient_network"
	case FailureServerUnavailable:
		return "server_unavailable"
	case FailureRateLimited:
		return "rate_limited"
	case FailureProtocolViolation:
		return "protocol_violation"
	case FailureOperationApply:
		return "operation_apply"
	case FailureRollback:
		return "rollback"
	case FailureStage:
		return "stage"
	default:
		return "unknown"
	}
}

// ChannelError marks a streaming-channel failure with its failure class.
type ChannelError struct {
	Class      FailureClass
	Err        error
	RetryAfter time.Duration // server-provided wait for rate limiting, if any
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel error (%s): %v", e.Class, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// NewChannelError wraps err with an explicit channel failure class.
func NewChannelError(class FailureClass, err error) *ChannelError {
	return &ChannelError{Class: class, Err: err}
}

// StageError marks a failure inside a named pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps a stage failure with the stage name.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ApplyError marks a document operation that failed to apply. Index is the
// zero-based position of the failing operation within its batch.
type ApplyError struct {
	Index int
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("operation %d failed to apply: %v", e.Index, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// NewApplyError wraps an operation apply failure.
func NewApplyError(index int, err error) *ApplyError {
	return &ApplyError{Index: index, Err: err}
}

// RollbackError marks the fatal case: an inverse operation failed while
// unwinding a partially applied batch. The document state is indeterminate.
type RollbackError struct {
	BatchID string
	Index   int
	Err     error
	Cause   error // the apply failure that triggered the rollback
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of batch %s failed at inverse %d: %v (apply failure: %v)",
		e.BatchID, e.Index, e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// NewRollbackError wraps a failed rollback together with its original cause.
func NewRollbackError(batchID string, index int, err, cause error) *RollbackError {
	return &RollbackError{BatchID: batchID, Index: index, Err: err, Cause: cause}
}

// Classify maps any error to its failure class. Typed errors carry their own
// class; untyped errors fall back to network heuristics, and anything left
// over is FailureUnknown.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}

	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		return channelErr.Class
	}
	var rollbackErr *RollbackError
	if errors.As(err, &rollbackErr) {
		return FailureRollback
	}
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return FailureOperationApply
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return FailureStage
	}

	if isNetworkError(err) {
		return FailureTransientNetwork
	}
	return FailureUnknown
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"deadline exceeded",
		"unexpected eof",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
