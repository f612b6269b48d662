package types

import "time"

// StreamEvent is the contract for progress notifications streamed back to the
// caller while a request is being processed. Every event carries the
// originating request id for correlation.
type StreamEvent interface {
	EventType() string
	RequestID() string
	Timestamp() time.Time
}

// BaseEvent provides the common fields for all stream events.
type BaseEvent struct {
	requestID string
	timestamp time.Time
}

func (e *BaseEvent) RequestID() string    { return e.requestID }
func (e *BaseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(requestID string, ts time.Time) BaseEvent {
	if ts.IsZero() {
		ts = time.Now()
	}
	return BaseEvent{requestID: requestID, timestamp: ts}
}

// ProgressEvent - emitted after each stage group completes.
type ProgressEvent struct {
	BaseEvent
	GroupIndex      int
	TotalGroups     int
	StagesCompleted []string
}

func (e *ProgressEvent) EventType() string { return EventTypeProgress }

// NewProgressEvent creates a progress event for a completed stage group.
func NewProgressEvent(requestID string, groupIndex, totalGroups int, stages []string) *ProgressEvent {
	return &ProgressEvent{
		BaseEvent:       newBaseEvent(requestID, time.Time{}),
		GroupIndex:      groupIndex,
		TotalGroups:     totalGroups,
		StagesCompleted: stages,
	}
}

// AgentStatusEvent - emitted when the processing status of a request changes.
type AgentStatusEvent struct {
	BaseEvent
	Agent  string
	Status string
}

func (e *AgentStatusEvent) EventType() string { return EventTypeAgentStatus }

// NewAgentStatusEvent creates a status event attributed to a named agent.
func NewAgentStatusEvent(requestID, agent, status string) *AgentStatusEvent {
	return &AgentStatusEvent{
		BaseEvent: newBaseEvent(requestID, time.Time{}),
		Agent:     agent,
		Status:    status,
	}
}

// PartialResultEvent - carries streamed partial output or the final
// confirmation of an applied batch.
type PartialResultEvent struct {
	BaseEvent
	Content string
	Final   bool
	Delayed bool
	Applied int
}

func (e *PartialResultEvent) EventType() string { return EventTypeStreamingResponse }

// NewPartialResultEvent creates a partial-result event.
func NewPartialResultEvent(requestID, content string) *PartialResultEvent {
	return &PartialResultEvent{
		BaseEvent: newBaseEvent(requestID, time.Time{}),
		Content:   content,
	}
}

// NewFinalResultEvent creates the terminal result event for a request.
func NewFinalResultEvent(requestID, content string, applied int, delayed bool) *PartialResultEvent {
	return &PartialResultEvent{
		BaseEvent: newBaseEvent(requestID, time.Time{}),
		Content:   content,
		Final:     true,
		Delayed:   delayed,
		Applied:   applied,
	}
}

// ErrorEvent - emitted when processing of a request fails. Terminal marks the
// request as finished; already-streamed progress stays visible.
type ErrorEvent struct {
	BaseEvent
	Message  string
	Terminal bool
}

func (e *ErrorEvent) EventType() string { return EventTypeErrorNotification }

// NewErrorEvent creates an error event for a request.
func NewErrorEvent(requestID, message string, terminal bool) *ErrorEvent {
	return &ErrorEvent{
		BaseEvent: newBaseEvent(requestID, time.Time{}),
		Message:   message,
		Terminal:  terminal,
	}
}

// HeartbeatEvent - keep-alive marker on the streaming channel. Heartbeats are
// the only events the outgoing queue may drop under pressure.
type HeartbeatEvent struct {
	BaseEvent
}

func (e *HeartbeatEvent) EventType() string { return EventTypeHeartbeat }

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(requestID string) *HeartbeatEvent {
	return &HeartbeatEvent{BaseEvent: newBaseEvent(requestID, time.Time{})}
}
