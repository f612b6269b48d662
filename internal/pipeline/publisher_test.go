package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quill/internal/document"
	"quill/internal/recovery"
	"quill/internal/stream"
	"quill/internal/types"
	"quill/internal/workflow"
)

// When the streaming channel cannot accept a message the fallback transport
// delivers it, carrying the same request id.
func TestPublishFallsBackWhenChannelUnavailable(t *testing.T) {
	var mu sync.Mutex
	var delivered []types.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env types.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		delivered = append(delivered, env)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	fallback := stream.NewFallback(srv.URL, nil, nil)
	history, _ := stream.NewEventHistory(8)
	// nil channel stands in for a channel that is not Connected.
	pub := NewPublisher(nil, fallback, history, recovery.NewManager(nil), nil)

	ev := types.NewProgressEvent("req-42", 1, 2, []string{"content"})
	pub.Publish(context.Background(), ev)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("fallback delivered %d messages", len(delivered))
	}
	if delivered[0].RequestID != "req-42" {
		t.Fatalf("fallback changed the request id: %q", delivered[0].RequestID)
	}

	events, ok := history.Replay("req-42")
	if !ok || len(events) != 1 {
		t.Fatalf("event not recorded for replay")
	}
}

func TestPublishSurvivesFallbackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fallback := stream.NewFallback(srv.URL, nil, nil)
	history, _ := stream.NewEventHistory(8)
	pub := NewPublisher(nil, fallback, history, recovery.NewManager(nil), nil)

	// Must not panic or block; the event stays replayable.
	pub.Publish(context.Background(), types.NewErrorEvent("req-43", "boom", true))

	if _, ok := history.Replay("req-43"); !ok {
		t.Fatalf("undelivered event lost from history")
	}
}

// receivedEnvelope pairs an envelope with the transport that carried it.
type receivedEnvelope struct {
	env types.Envelope
	via string // "ws" or "http"
}

// streamReceiver is one receiving endpoint exposing both transports: a
// websocket stream and an HTTP fallback. Every non-heartbeat envelope is
// recorded with the transport that delivered it.
type streamReceiver struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu     sync.Mutex
	refuse bool
	envs   []receivedEnvelope
}

func newStreamReceiver(t *testing.T) *streamReceiver {
	t.Helper()
	rc := &streamReceiver{conns: make(chan *websocket.Conn, 2)}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		rc.mu.Lock()
		refuse := rc.refuse
		rc.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := rc.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		rc.conns <- conn
		for {
			var env types.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			rc.add(env, "ws")
		}
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var env types.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode fallback envelope: %v", err)
		}
		rc.add(env, "http")
		w.WriteHeader(http.StatusNoContent)
	})

	rc.srv = httptest.NewServer(mux)
	t.Cleanup(rc.srv.Close)
	return rc
}

func (rc *streamReceiver) add(env types.Envelope, via string) {
	if env.Type == types.EventTypeHeartbeat {
		return
	}
	rc.mu.Lock()
	rc.envs = append(rc.envs, receivedEnvelope{env: env, via: via})
	rc.mu.Unlock()
}

func (rc *streamReceiver) count(via, requestID string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for _, rec := range rc.envs {
		if rec.via == via && rec.env.RequestID == requestID {
			n++
		}
	}
	return n
}

func (rc *streamReceiver) setRefuse(v bool) {
	rc.mu.Lock()
	rc.refuse = v
	rc.mu.Unlock()
}

func waitChannelState(t *testing.T, ch *stream.Channel, want stream.ConnState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel state %v, want %v", ch.State(), want)
}

// The connected channel delivers the head of a request's stream, the
// connection drops mid-run, and the fallback carries the remainder. The
// receiver observes one continuous stream for the request id with exactly
// one final result.
func TestPublishContinuityAcrossChannelLoss(t *testing.T) {
	rc := newStreamReceiver(t)

	ch := stream.NewChannel(stream.Config{
		Endpoint:          "ws" + strings.TrimPrefix(rc.srv.URL, "http") + "/stream",
		HeartbeatInterval: 50 * time.Millisecond,
		StaleAfter:        5 * time.Second,
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        20 * time.Millisecond,
		MaxReconnects:     2,
		QueueSize:         16,
	}, nil, nil)
	ch.Start()
	t.Cleanup(ch.Stop)

	var conn *websocket.Conn
	select {
	case conn = <-rc.conns:
	case <-time.After(2 * time.Second):
		t.Fatalf("no websocket connection accepted")
	}
	waitChannelState(t, ch, stream.StateConnected)

	fallback := stream.NewFallback(rc.srv.URL+"/events", nil, nil)
	history, _ := stream.NewEventHistory(8)
	pub := NewPublisher(ch, fallback, history, recovery.NewManager(nil), nil)

	released := make(chan struct{})
	registry := workflow.NewRegistry()
	_ = registry.Register(workflow.NewStage("head", []string{"head.out"},
		func(context.Context, *workflow.State) (workflow.StageResult, error) {
			return workflow.StageResult{Outputs: map[string]any{"head.out": true}}, nil
		}))
	_ = registry.Register(workflow.NewStage("tail", nil,
		func(context.Context, *workflow.State) (workflow.StageResult, error) {
			<-released
			return workflow.StageResult{}, nil
		}))

	doc := document.NewMemoryDocument("doc", "text")
	docExec := document.NewExecutor(doc, document.NewJournal(), nil, nil)
	exec := NewExecutor(registry, doc, docExec, 0, noopTracer(), nil, nil)

	req := types.NewRequest("keep the stream whole")
	path := workflow.Path{Groups: []workflow.Group{{"head"}, {"tail"}}}

	runDone := make(chan *Result, 1)
	go func() {
		runDone <- exec.Run(context.Background(), req, types.ContextSnapshot{}, types.Moderate, path,
			func(ev types.StreamEvent) { pub.Publish(context.Background(), ev) })
	}()

	// The head of the stream (agent status plus first progress) must arrive
	// over the websocket.
	deadline := time.Now().Add(3 * time.Second)
	for rc.count("ws", req.ID) < 2 {
		if !time.Now().Before(deadline) {
			t.Fatalf("head of stream never arrived over websocket: %d envelopes", rc.count("ws", req.ID))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Sever the connection and refuse re-dials; the channel exhausts its
	// reconnect attempts while the second group is still running.
	rc.setRefuse(true)
	conn.Close()
	waitChannelState(t, ch, stream.StateFailed)

	close(released)
	var result *Result
	select {
	case result = <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("run never finished")
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status %v, err %v", result.Status, result.Err)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	wsCount, httpCount, finals := 0, 0, 0
	for _, rec := range rc.envs {
		if rec.env.RequestID != req.ID {
			t.Fatalf("stray request id %q on %s", rec.env.RequestID, rec.via)
		}
		switch rec.via {
		case "ws":
			wsCount++
		case "http":
			httpCount++
		}
		if rec.env.Type == types.EventTypeStreamingResponse {
			finals++
		}
	}
	if wsCount == 0 || httpCount == 0 {
		t.Fatalf("stream not split across transports: ws=%d http=%d", wsCount, httpCount)
	}
	if finals != 1 {
		t.Fatalf("%d final result events, want exactly 1", finals)
	}
}
