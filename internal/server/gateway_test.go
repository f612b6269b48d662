package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quill/internal/classify"
	"quill/internal/document"
	"quill/internal/observability"
	"quill/internal/pipeline"
	"quill/internal/recovery"
	"quill/internal/stream"
	"quill/internal/types"
	"quill/internal/workflow"
)

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server, *stream.EventHistory) {
	t.Helper()

	doc := document.NewMemoryDocument("doc", "gateway test document")
	registry := workflow.NewRegistry()
	if err := workflow.RegisterBuiltinStages(registry); err != nil {
		t.Fatalf("register stages: %v", err)
	}
	router, err := workflow.NewRouter(registry, workflow.DefaultTable())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	docExec := document.NewExecutor(doc, document.NewJournal(), nil, nil)
	tracer := observability.NewTracerProvider(observability.TracingConfig{Enabled: false})
	exec := pipeline.NewExecutor(registry, doc, docExec, 0, tracer, nil, nil)

	history, err := stream.NewEventHistory(32)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	publisher := pipeline.NewPublisher(nil, nil, history, recovery.NewManager(nil), nil)
	controller, err := pipeline.NewController(pipeline.ControllerConfig{Workers: 2, QueueSize: 8, ResultCache: 16},
		classify.New(), router, doc, exec, publisher, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	controller.Start()
	t.Cleanup(controller.Stop)

	gw := NewGateway(GatewayConfig{}, controller, history, nil)
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	return gw, srv, history
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestGatewaySubmitAndResult(t *testing.T) {
	_, srv, _ := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/requests", types.SubmitMessage{Request: "insert a note"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d", resp.StatusCode)
	}

	var accepted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.RequestID == "" {
		t.Fatalf("no request id returned")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		res, err := http.Get(srv.URL + "/api/requests/" + accepted.RequestID)
		if err != nil {
			t.Fatalf("get result: %v", err)
		}
		if res.StatusCode == http.StatusOK {
			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			res.Body.Close()
			if body.Status != "completed" {
				t.Fatalf("request status %q", body.Status)
			}
			return
		}
		res.Body.Close()
		if time.Now().After(deadline) {
			t.Fatalf("request never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewaySubmitRejectsEmptyRequest(t *testing.T) {
	_, srv, _ := newTestGateway(t)
	resp := postJSON(t, srv.URL+"/api/requests", types.SubmitMessage{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestGatewayCancelUnknownRequest(t *testing.T) {
	_, srv, _ := newTestGateway(t)
	resp := postJSON(t, srv.URL+"/api/requests/nope/cancel", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestGatewayFallbackEventRecordedForReplay(t *testing.T) {
	_, srv, _ := newTestGateway(t)

	env := types.ToEnvelope(types.NewProgressEvent("req-x", 1, 2, []string{"content"}))
	resp := postJSON(t, srv.URL+"/api/events", env)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("fallback receiver status %d", resp.StatusCode)
	}

	res, err := http.Get(srv.URL + "/api/requests/req-x/events")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replay status %d", res.StatusCode)
	}
	var body struct {
		Events []types.Envelope `json:"events"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Type != types.EventTypeProgress {
		t.Fatalf("replay contents: %+v", body.Events)
	}
}

func TestGatewayFallbackEventRejectsMissingType(t *testing.T) {
	_, srv, _ := newTestGateway(t)
	resp := postJSON(t, srv.URL+"/api/events", types.Envelope{RequestID: "req-y"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

// An envelope posted through the fallback receiver fans out to connected
// sockets, so stream observers see fallback-delivered events too.
func TestGatewayFanOutToSockets(t *testing.T) {
	_, srv, _ := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the gateway a moment to register the socket.
	time.Sleep(20 * time.Millisecond)

	sent := types.ToEnvelope(types.NewAgentStatusEvent("req-z", "router", "running"))
	resp := postJSON(t, srv.URL+"/api/events", sent)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("fallback receiver status %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got types.Envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("socket read: %v", err)
	}
	if got.RequestID != "req-z" || got.Type != types.EventTypeAgentStatus {
		t.Fatalf("socket received %+v", got)
	}
}

func TestGatewayHealth(t *testing.T) {
	_, srv, _ := newTestGateway(t)
	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestGatewayMetricsEndpoint(t *testing.T) {
	_, srv, _ := newTestGateway(t)
	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
}
