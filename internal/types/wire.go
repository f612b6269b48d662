package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire-level event type tags shared by the streaming channel and the HTTP
// fallback transport.
const (
	EventTypeProgress          = "progress_update"
	EventTypeAgentStatus       = "agent_status"
	EventTypeStreamingResponse = "streaming_response"
	EventTypeErrorNotification = "error_notification"
	EventTypeHeartbeat         = "heartbeat"
)

// Envelope is the JSON wire message used for both the duplex socket and the
// HTTP fallback.
type Envelope struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Timestamp int64          `json:"timestamp"`
	Agent     string         `json:"agent,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SubmitMessage is the wire form of a request submission.
type SubmitMessage struct {
	Request string          `json:"request"`
	Type    string          `json:"type,omitempty"`
	Context ContextSnapshot `json:"context"`
}

// ToEnvelope converts a stream event to its wire representation.
func ToEnvelope(ev StreamEvent) Envelope {
	env := Envelope{
		Type:      ev.EventType(),
		RequestID: ev.RequestID(),
		Timestamp: ev.Timestamp().UnixMilli(),
		Data:      map[string]any{},
	}

	switch e := ev.(type) {
	case *ProgressEvent:
		env.Data["group_index"] = e.GroupIndex
		env.Data["total_groups"] = e.TotalGroups
		env.Data["stages_completed"] = e.StagesCompleted
	case *AgentStatusEvent:
		env.Agent = e.Agent
		env.Data["status"] = e.Status
	case *PartialResultEvent:
		env.Data["content"] = e.Content
		env.Data["final"] = e.Final
		env.Data["delayed"] = e.Delayed
		env.Data["applied"] = e.Applied
	case *ErrorEvent:
		env.Data["message"] = e.Message
		env.Data["terminal"] = e.Terminal
	case *HeartbeatEvent:
		// no payload
	}
	return env
}

// FromEnvelope converts a wire message back to a typed stream event.
// Unknown message types are a protocol violation.
func FromEnvelope(env Envelope) (StreamEvent, error) {
	base := BaseEvent{
		requestID: env.RequestID,
		timestamp: time.UnixMilli(env.Timestamp),
	}

	switch env.Type {
	case EventTypeProgress:
		ev := &ProgressEvent{BaseEvent: base}
		ev.GroupIndex = dataInt(env.Data, "group_index")
		ev.TotalGroups = dataInt(env.Data, "total_groups")
		ev.StagesCompleted = dataStrings(env.Data, "stages_completed")
		return ev, nil
	case EventTypeAgentStatus:
		return &AgentStatusEvent{
			BaseEvent: base,
			Agent:     env.Agent,
			Status:    dataString(env.Data, "status"),
		}, nil
	case EventTypeStreamingResponse:
		return &PartialResultEvent{
			BaseEvent: base,
			Content:   dataString(env.Data, "content"),
			Final:     dataBool(env.Data, "final"),
			Delayed:   dataBool(env.Data, "delayed"),
			Applied:   dataInt(env.Data, "applied"),
		}, nil
	case EventTypeErrorNotification:
		return &ErrorEvent{
			BaseEvent: base,
			Message:   dataString(env.Data, "message"),
			Terminal:  dataBool(env.Data, "terminal"),
		}, nil
	case EventTypeHeartbeat:
		return &HeartbeatEvent{BaseEvent: base}, nil
	default:
		return nil, fmt.Errorf("unknown wire message type %q", env.Type)
	}
}

func dataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func dataBool(data map[string]any, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

// dataInt tolerates json.Number-style decoding where numbers arrive as
// float64.
func dataInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func dataStrings(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
