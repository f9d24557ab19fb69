package cli

import (
	"encoding/json"

	"pretorin/internal/agent"
)

// Session-level event types. Stream events keep the runtime's own type names
// (thread.started, text.delta, item.completed, ...).
const (
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
)

// SessionStartedEvent is emitted once the runtime process is running.
type SessionStartedEvent struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Skill          string `json:"skill,omitempty"`
	Model          string `json:"model"`
	ModelSource    string `json:"model_source"`
	Endpoint       string `json:"endpoint"`
	WorkingDir     string `json:"working_dir"`
	RuntimeVersion string `json:"runtime_version"`
}

// StreamEventPayload mirrors one decoded runtime event.
type StreamEventPayload struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Item      json.RawMessage `json:"item,omitempty"`
	Usage     *agent.Usage    `json:"usage,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// SessionCompletedEvent carries the final result.
type SessionCompletedEvent struct {
	Type            string       `json:"type"`
	SessionID       string       `json:"session_id"`
	Response        string       `json:"response"`
	ItemCount       int          `json:"item_count"`
	Usage           *agent.Usage `json:"usage,omitempty"`
	EvidenceCreated []string     `json:"evidence_created,omitempty"`
	DurationMS      int64        `json:"duration_ms"`
}

// SessionFailedEvent reports where the session stopped and what it had
// produced by then.
type SessionFailedEvent struct {
	Type            string   `json:"type"`
	SessionID       string   `json:"session_id,omitempty"`
	State           string   `json:"state,omitempty"`
	Stage           string   `json:"stage,omitempty"`
	Error           string   `json:"error"`
	ExitCode        int      `json:"exit_code,omitempty"`
	PartialResponse string   `json:"partial_response,omitempty"`
	EvidenceCreated []string `json:"evidence_created,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
}

func newStreamEventPayload(sessionID string, e agent.StreamEvent) StreamEventPayload {
	payload := StreamEventPayload{
		Type:      string(e.Kind),
		SessionID: sessionID,
		ThreadID:  e.ThreadID,
		Text:      e.Text,
		Usage:     e.Usage,
		Message:   e.Message,
	}
	if e.Item != nil {
		if raw, err := json.Marshal(e.Item); err == nil {
			payload.Item = raw
		}
	}
	return payload
}
