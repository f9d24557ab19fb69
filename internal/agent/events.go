package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the "type" field of one JSON line on the runtime's stdout.
type EventKind string

const (
	EventThreadStarted EventKind = "thread.started"
	EventTurnStarted   EventKind = "turn.started"
	EventTextDelta     EventKind = "text.delta"
	EventItemStarted   EventKind = "item.started"
	EventItemUpdated   EventKind = "item.updated"
	EventItemCompleted EventKind = "item.completed"
	EventTurnCompleted EventKind = "turn.completed"
	EventTurnFailed    EventKind = "turn.failed"
	EventError         EventKind = "error"
)

// Item types reported by the runtime.
const (
	ItemTypeAgentMessage     = "agent_message"
	ItemTypeReasoning        = "reasoning"
	ItemTypeCommandExecution = "command_execution"
	ItemTypeFileChange       = "file_change"
	ItemTypeMCPToolCall      = "mcp_tool_call"
	ItemTypeError            = "error"
)

// Usage counts tokens for one turn.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Item is a unit of work the runtime completed: a message, a command, a tool
// call. The common fields are decoded; Raw keeps the full payload.
type Item struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
	Server string `json:"server,omitempty"`
	Tool   string `json:"tool,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// MarshalJSON re-emits the payload exactly as the runtime sent it.
func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	type plain Item
	return json.Marshal(plain(i))
}

// StreamEvent is one decoded event. Only the fields for Kind are set.
type StreamEvent struct {
	Kind     EventKind
	ThreadID string
	Text     string
	Item     *Item
	Usage    *Usage
	Message  string
}

// Terminal reports whether the event ends the turn.
func (e StreamEvent) Terminal() bool {
	switch e.Kind {
	case EventTurnCompleted, EventTurnFailed, EventError:
		return true
	}
	return false
}

// Failure reports whether the event is a tagged error.
func (e StreamEvent) Failure() bool {
	return e.Kind == EventTurnFailed || e.Kind == EventError
}

type wireEvent struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Text     string          `json:"text"`
	Delta    string          `json:"delta"`
	Item     json.RawMessage `json:"item"`
	Usage    *Usage          `json:"usage"`
	Message  string          `json:"message"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent parses one line of runtime output. ok is false for blank lines
// and event types this package does not model; err is set for malformed JSON.
func DecodeEvent(line []byte) (event StreamEvent, ok bool, err error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return StreamEvent{}, false, nil
	}

	var wire wireEvent
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return StreamEvent{}, false, fmt.Errorf("decode event: %w", err)
	}

	event.Kind = EventKind(wire.Type)
	switch event.Kind {
	case EventThreadStarted:
		event.ThreadID = wire.ThreadID
	case EventTurnStarted:
	case EventTextDelta:
		event.Text = wire.Text
		if event.Text == "" {
			event.Text = wire.Delta
		}
	case EventItemStarted, EventItemUpdated, EventItemCompleted:
		item, err := decodeItem(wire.Item)
		if err != nil {
			return StreamEvent{}, false, err
		}
		event.Item = item
	case EventTurnCompleted:
		event.Usage = wire.Usage
	case EventTurnFailed:
		event.Message = wire.Message
		if wire.Error != nil && wire.Error.Message != "" {
			event.Message = wire.Error.Message
		}
		if event.Message == "" {
			event.Message = "turn failed"
		}
	case EventError:
		event.Message = wire.Message
		if event.Message == "" && wire.Error != nil {
			event.Message = wire.Error.Message
		}
		if event.Message == "" {
			event.Message = "runtime reported an error"
		}
	default:
		return StreamEvent{}, false, nil
	}
	return event, true, nil
}

func decodeItem(raw json.RawMessage) (*Item, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("decode item: missing payload")
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item.Raw = append(json.RawMessage(nil), raw...)
	return &item, nil
}

// evidenceIDs extracts identifiers of evidence created by a completed tool
// call. It falls back to the item ID when the result carries none.
func evidenceIDs(item *Item) []string {
	if item == nil || item.Type != ItemTypeMCPToolCall || item.Tool != "create_evidence" {
		return nil
	}
	if item.Status != "" && item.Status != "completed" {
		return nil
	}

	var payload struct {
		Result struct {
			StructuredContent map[string]any `json:"structured_content"`
			Content           []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(item.Raw, &payload); err == nil {
		if id := pickString(payload.Result.StructuredContent, "id", "evidence_id"); id != "" {
			return []string{id}
		}
		for _, block := range payload.Result.Content {
			if block.Type != "text" {
				continue
			}
			var decoded map[string]any
			if json.Unmarshal([]byte(block.Text), &decoded) == nil {
				if id := pickString(decoded, "id", "evidence_id"); id != "" {
					return []string{id}
				}
			}
		}
	}
	if item.ID != "" {
		return []string{item.ID}
	}
	return nil
}

func pickString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
