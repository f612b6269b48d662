package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.record(format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.record(format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.record(format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.record(format, args...) }

func (l *captureLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "runner", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("function never ran")
	}
}

func TestGoLogsPanicWithName(t *testing.T) {
	logger := &captureLogger{}
	done := make(chan struct{})
	Go(logger, "exploding-loop", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, entry := range logger.snapshot() {
			if strings.Contains(entry, "exploding-loop") && strings.Contains(entry, "boom") {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("panic never logged: %v", logger.snapshot())
}

func TestGoNilLoggerSurvivesPanic(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "quiet", func() {
		defer close(done)
		panic("unseen")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("goroutine never finished")
	}
}
