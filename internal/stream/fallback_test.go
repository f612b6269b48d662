package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/recovery"
	"quill/internal/types"
)

func TestFallbackSendDeliversEnvelope(t *testing.T) {
	var received types.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := NewFallback(srv.URL, nil, nil)
	env := types.ToEnvelope(types.NewProgressEvent("req-1", 1, 3, []string{"content"}))
	if err := f.Send(context.Background(), env); err != nil {
		t.Fatalf("send: %v", err)
	}
	if received.RequestID != "req-1" || received.Type != types.EventTypeProgress {
		t.Fatalf("server saw %+v", received)
	}
}

func TestFallbackClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFallback(srv.URL, nil, nil)
	err := f.Send(context.Background(), heartbeatEnv())

	var chanErr *recovery.ChannelError
	if !errors.As(err, &chanErr) {
		t.Fatalf("error type %T", err)
	}
	if chanErr.Class != recovery.FailureRateLimited {
		t.Fatalf("class %v", chanErr.Class)
	}
	if chanErr.RetryAfter != 3*time.Second {
		t.Fatalf("retry-after %v", chanErr.RetryAfter)
	}
}

func TestFallbackClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFallback(srv.URL, nil, nil)
	err := f.Send(context.Background(), heartbeatEnv())
	if recovery.Classify(err) != recovery.FailureServerUnavailable {
		t.Fatalf("5xx classified as %v", recovery.Classify(err))
	}
}

func TestFallbackBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFallback(srv.URL, nil, nil)
	for i := 0; i < 5; i++ {
		_ = f.Send(context.Background(), heartbeatEnv())
	}
	if f.BreakerState() != recovery.StateOpen {
		t.Fatalf("breaker state %v after repeated failures", f.BreakerState())
	}

	// With the breaker open the request never reaches the server.
	err := f.Send(context.Background(), heartbeatEnv())
	if recovery.Classify(err) != recovery.FailureServerUnavailable {
		t.Fatalf("open breaker error classified as %v", recovery.Classify(err))
	}
}
