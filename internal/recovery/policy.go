package recovery

import (
	"errors"
	"time"

	"quill/internal/logging"
)

// Policy is the action the engine takes in response to a classified failure.
type Policy int

const (
	// PolicyRetry - retry on the same transport with backoff.
	PolicyRetry Policy = iota
	// PolicyFallback - switch to the synchronous fallback transport.
	PolicyFallback
	// PolicyBackoff - wait (honoring retry-after when provided) then retry.
	PolicyBackoff
	// PolicyRollback - unwind the partially applied operation batch.
	PolicyRollback
	// PolicyTerminal - surface to the caller; no local recovery.
	PolicyTerminal
	// PolicyFatal - surface loudly; document state may be indeterminate.
	PolicyFatal
)

func (p Policy) String() string {
	switch p {
	case PolicyRetry:
		return "retry"
	case PolicyFallback:
		return "fallback"
	case PolicyBackoff:
		return "backoff"
	case PolicyRollback:
		return "rollback"
	case PolicyTerminal:
		return "terminal"
	case PolicyFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Class      FailureClass
	Policy     Policy
	RetryAfter time.Duration // non-zero only for rate-limited failures
}

// Manager holds the failure-to-policy decision table. The table is explicit
// and total: every failure class maps to exactly one policy, and unmapped
// errors default to terminal.
type Manager struct {
	table  map[FailureClass]Policy
	logger logging.Logger
}

// NewManager creates a recovery manager with the canonical decision table.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		table: map[FailureClass]Policy{
			FailureTransientNetwork:  PolicyRetry,
			FailureServerUnavailable: PolicyFallback,
			FailureRateLimited:       PolicyBackoff,
			FailureProtocolViolation: PolicyTerminal,
			FailureOperationApply:    PolicyRollback,
			FailureRollback:          PolicyFatal,
			FailureStage:             PolicyTerminal,
			FailureUnknown:           PolicyTerminal,
		},
		logger: logging.OrNop(logger),
	}
}

// Decide classifies err and returns the policy the engine must follow.
func (m *Manager) Decide(err error) Decision {
	class := Classify(err)
	policy, ok := m.table[class]
	if !ok {
		policy = PolicyTerminal
	}

	decision := Decision{Class: class, Policy: policy}

	var channelErr *ChannelError
	if errors.As(err, &channelErr) && channelErr.RetryAfter > 0 {
		decision.RetryAfter = channelErr.RetryAfter
	}

	m.logger.Debug("failure classified as %s, policy %s", class, policy)
	return decision
}
