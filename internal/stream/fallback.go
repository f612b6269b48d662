package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quill/internal/logging"
	"quill/internal/observability"
	"quill/internal/recovery"
	"quill/internal/types"
)

// Fallback is the synchronous request/response transport used when the
// streaming channel cannot deliver. It posts the same wire envelope, keyed
// by the same request id, so the receiving end sees one continuous stream.
// A circuit breaker keeps repeated failures from hammering a dead server.
type Fallback struct {
	endpoint string
	client   *http.Client
	breaker  *recovery.CircuitBreaker
	logger   logging.Logger
	metrics  *observability.Metrics
}

// NewFallback creates a fallback transport posting to the given endpoint.
func NewFallback(endpoint string, logger logging.Logger, metrics *observability.Metrics) *Fallback {
	logger = logging.OrNop(logger)
	return &Fallback{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  recovery.NewCircuitBreaker("fallback-transport", recovery.DefaultCircuitBreakerConfig(), logger),
		logger:   logger,
		metrics:  metrics,
	}
}

// Send delivers one envelope synchronously. Rate limiting honors the
// server-provided Retry-After header when present.
func (f *Fallback) Send(ctx context.Context, env types.Envelope) error {
	if err := f.breaker.Allow(); err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		f.breaker.Mark(err)
		return recovery.NewChannelError(recovery.FailureProtocolViolation,
			fmt.Errorf("marshal envelope: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		f.breaker.Mark(err)
		return recovery.NewChannelError(recovery.FailureProtocolViolation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.breaker.Mark(err)
		return recovery.NewChannelError(recovery.FailureTransientNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f.breaker.Mark(nil)
		f.metrics.ObserveFallbackSend()
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		f.breaker.Mark(nil) // pushback, not an outage
		chanErr := recovery.NewChannelError(recovery.FailureRateLimited,
			fmt.Errorf("fallback endpoint rate limited"))
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, parseErr := strconv.Atoi(after); parseErr == nil {
				chanErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return chanErr
	case resp.StatusCode >= 500:
		err := recovery.NewChannelError(recovery.FailureServerUnavailable,
			fmt.Errorf("fallback endpoint returned %d", resp.StatusCode))
		f.breaker.Mark(err)
		f.logger.Warn("fallback delivery for %s failed: %v", env.RequestID, err)
		return err
	default:
		err := recovery.NewChannelError(recovery.FailureProtocolViolation,
			fmt.Errorf("fallback endpoint returned %d", resp.StatusCode))
		f.breaker.Mark(err)
		return err
	}
}

// BreakerState exposes the breaker state for telemetry.
func (f *Fallback) BreakerState() recovery.CircuitState {
	return f.breaker.State()
}
