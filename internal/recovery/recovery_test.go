package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyTypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want FailureClass
	}{
		{NewChannelError(FailureRateLimited, errors.New("429")), FailureRateLimited},
		{NewChannelError(FailureServerUnavailable, errors.New("503")), FailureServerUnavailable},
		{NewStageError("content", errors.New("boom")), FailureStage},
		{NewApplyError(2, errors.New("out of bounds")), FailureOperationApply},
		{NewRollbackError("b1", 0, errors.New("bad"), errors.New("cause")), FailureRollback},
		{fmt.Errorf("wrap: %w", NewStageError("x", errors.New("y"))), FailureStage},
		{errors.New("connection refused"), FailureTransientNetwork},
		{errors.New("unexpected EOF"), FailureTransientNetwork},
		{errors.New("something else entirely"), FailureUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// The decision table is total: every failure class yields a policy, and the
// policies match the documented mapping.
func TestManagerDecisionTable(t *testing.T) {
	mgr := NewManager(nil)

	cases := []struct {
		err    error
		policy Policy
	}{
		{NewChannelError(FailureTransientNetwork, errors.New("blip")), PolicyRetry},
		{NewChannelError(FailureServerUnavailable, errors.New("down")), PolicyFallback},
		{NewChannelError(FailureRateLimited, errors.New("slow down")), PolicyBackoff},
		{NewChannelError(FailureProtocolViolation, errors.New("garbage")), PolicyTerminal},
		{NewApplyError(0, errors.New("bad op")), PolicyRollback},
		{NewRollbackError("b", 0, errors.New("x"), errors.New("y")), PolicyFatal},
		{NewStageError("content", errors.New("boom")), PolicyTerminal},
		{errors.New("mystery"), PolicyTerminal},
	}
	for _, tc := range cases {
		if got := mgr.Decide(tc.err); got.Policy != tc.policy {
			t.Fatalf("Decide(%v).Policy = %v, want %v", tc.err, got.Policy, tc.policy)
		}
	}
}

func TestDecisionCarriesRetryAfter(t *testing.T) {
	mgr := NewManager(nil)
	err := NewChannelError(FailureRateLimited, errors.New("429"))
	err.RetryAfter = 7 * time.Second

	decision := mgr.Decide(err)
	if decision.RetryAfter != 7*time.Second {
		t.Fatalf("retry-after lost: %v", decision.RetryAfter)
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := 2 * time.Second
	limit := 32 * time.Second

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second,
	}
	for i, expected := range want {
		if got := BackoffDelay(i+1, base, limit); got != expected {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffDelayMonotone(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := BackoffDelay(attempt, 2*time.Second, 32*time.Second)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v after %v", attempt, d, prev)
		}
		if d > 32*time.Second {
			t.Fatalf("delay exceeds cap at attempt %d: %v", attempt, d)
		}
		prev = d
	}
}

func TestRetryStopsOnTerminalPolicy(t *testing.T) {
	mgr := NewManager(nil)
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), mgr, nil, func(context.Context) error {
		calls++
		return NewStageError("content", errors.New("not retryable"))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("terminal failure retried %d times", calls)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	mgr := NewManager(nil)
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, mgr, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewChannelError(FailureTransientNetwork, errors.New("blip"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Millisecond}
	cb := NewCircuitBreaker("test", cfg, nil)

	if err := cb.Allow(); err != nil {
		t.Fatalf("closed breaker must allow: %v", err)
	}
	cb.Mark(errors.New("fail"))
	cb.Mark(errors.New("fail"))
	if cb.State() != StateOpen {
		t.Fatalf("breaker state %v after threshold failures", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Fatalf("open breaker must block")
	}

	time.Sleep(2 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker must half-open after timeout: %v", err)
	}
	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("breaker state %v after recovery", cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond}
	cb := NewCircuitBreaker("test", cfg, nil)

	cb.Mark(errors.New("fail"))
	time.Sleep(2 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe: %v", err)
	}
	cb.Mark(errors.New("probe failed"))
	if cb.State() != StateOpen {
		t.Fatalf("breaker state %v after failed probe", cb.State())
	}
}
