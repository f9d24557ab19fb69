package agent

import "strings"

// Result is the outcome of one session. It is built once, when the stream
// ends, and not modified afterwards.
type Result struct {
	Response        string   `json:"response"`
	Items           []Item   `json:"items"`
	Usage           *Usage   `json:"usage,omitempty"`
	EvidenceCreated []string `json:"evidence_created,omitempty"`
	ThreadID        string   `json:"thread_id,omitempty"`
}

// Aggregator folds a session's events, in arrival order, into a Result.
// It is used by a single consumer and is not safe for concurrent use.
type Aggregator struct {
	text     strings.Builder
	sawDelta bool
	items    []Item
	usage    *Usage
	evidence []string
	threadID string
	// lastMessage is the text of the most recent completed agent message.
	lastMessage string
	failure     string
}

func (a *Aggregator) Add(event StreamEvent) {
	switch event.Kind {
	case EventThreadStarted:
		a.threadID = event.ThreadID
	case EventTextDelta:
		a.sawDelta = true
		a.text.WriteString(event.Text)
	case EventItemCompleted:
		if event.Item == nil {
			return
		}
		a.items = append(a.items, *event.Item)
		if event.Item.Type == ItemTypeAgentMessage {
			a.lastMessage = event.Item.Text
		}
		a.evidence = append(a.evidence, evidenceIDs(event.Item)...)
	case EventTurnCompleted:
		if event.Usage != nil {
			u := *event.Usage
			a.usage = &u
		}
	}
	if event.Failure() {
		a.failure = event.Message
	}
}

// Failure is the message of the last error event, if any.
func (a *Aggregator) Failure() string {
	return a.failure
}

// Result snapshots what has been aggregated so far. It is valid to call at
// any point, which is how partial results are produced on failure.
func (a *Aggregator) Result() *Result {
	response := a.text.String()
	if !a.sawDelta {
		response = a.lastMessage
	}

	items := make([]Item, len(a.items))
	copy(items, a.items)

	var usage *Usage
	if a.usage != nil {
		u := *a.usage
		usage = &u
	}

	var evidence []string
	if len(a.evidence) > 0 {
		evidence = append([]string(nil), a.evidence...)
	}

	return &Result{
		Response:        response,
		Items:           items,
		Usage:           usage,
		EvidenceCreated: evidence,
		ThreadID:        a.threadID,
	}
}
