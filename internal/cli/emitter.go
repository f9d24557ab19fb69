package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pretorin/internal/agent"
	"pretorin/internal/timeutil"
)

// EventEmitter renders a session for the user.
type EventEmitter interface {
	SessionStarted(event SessionStartedEvent)
	StreamEvent(sessionID string, event agent.StreamEvent)
	SessionCompleted(event SessionCompletedEvent)
	SessionFailed(event SessionFailedEvent)
}

// JSONEmitter writes events as JSON Lines.
type JSONEmitter struct {
	mu     sync.Mutex
	output io.Writer
	errOut io.Writer
}

func NewJSONEmitter(out, errOut io.Writer) *JSONEmitter {
	return &JSONEmitter{output: out, errOut: errOut}
}

func (e *JSONEmitter) emit(event any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(e.errOut, "ERROR: Failed to serialize event: %v\n", err)
		return
	}
	fmt.Fprintln(e.output, string(data))
}

func (e *JSONEmitter) SessionStarted(event SessionStartedEvent) {
	event.Type = EventSessionStarted
	e.emit(event)
}

func (e *JSONEmitter) StreamEvent(sessionID string, event agent.StreamEvent) {
	e.emit(newStreamEventPayload(sessionID, event))
}

func (e *JSONEmitter) SessionCompleted(event SessionCompletedEvent) {
	event.Type = EventSessionCompleted
	e.emit(event)
}

func (e *JSONEmitter) SessionFailed(event SessionFailedEvent) {
	event.Type = EventSessionFailed
	e.emit(event)
}

// TextEmitter prints progress to errOut. Response text itself is streamed to
// stdout by the session, so piping stdout yields only the answer.
type TextEmitter struct {
	mu      sync.Mutex
	errOut  io.Writer
	verbose bool
}

func NewTextEmitter(errOut io.Writer, verbose bool) *TextEmitter {
	return &TextEmitter{errOut: errOut, verbose: verbose}
}

func (e *TextEmitter) SessionStarted(event SessionStartedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintln(e.errOut, labelStyle.Render("Session:")+" "+valueStyle.Render(event.SessionID))
	fmt.Fprintln(e.errOut, "  "+mutedStyle.Render(fmt.Sprintf("Model: %s (%s)", event.Model, event.ModelSource)))
	if event.Skill != "" {
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("Skill: "+event.Skill))
	}
	fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("Working directory: "+event.WorkingDir))
	fmt.Fprintln(e.errOut, mutedStyle.Render(separator))
}

func (e *TextEmitter) StreamEvent(_ string, event agent.StreamEvent) {
	if event.Kind != agent.EventItemCompleted || event.Item == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	item := event.Item
	switch item.Type {
	case agent.ItemTypeMCPToolCall:
		name := item.Tool
		if item.Server != "" {
			name = item.Server + "." + item.Tool
		}
		mark := successStyle.Render("✓")
		if item.Status != "" && item.Status != "completed" {
			mark = errorStyle.Render("✗")
		}
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("→")+" "+labelStyle.Render(name)+" "+mark)
	case agent.ItemTypeCommandExecution:
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("→")+" "+labelStyle.Render("command")+" "+mutedStyle.Render(item.Status))
	case agent.ItemTypeFileChange:
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("→")+" "+labelStyle.Render("file change")+" "+mutedStyle.Render(item.Status))
	case agent.ItemTypeReasoning:
		if e.verbose && strings.TrimSpace(item.Text) != "" {
			fmt.Fprintln(e.errOut, "  "+veryMutedStyle.Render(firstLine(item.Text)))
		}
	case agent.ItemTypeError:
		fmt.Fprintln(e.errOut, "  "+errorStyle.Render("✗")+" "+mutedStyle.Render(item.Text))
	}
}

func (e *TextEmitter) SessionCompleted(event SessionCompletedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintln(e.errOut, mutedStyle.Render(separator))
	summary := fmt.Sprintf("%d item(s) in %s", event.ItemCount, formatMillis(event.DurationMS))
	if event.Usage != nil {
		summary += fmt.Sprintf(", %d tokens", event.Usage.Total())
	}
	fmt.Fprintln(e.errOut, successStyle.Render("✓")+" "+mutedStyle.Render(summary))
	if len(event.EvidenceCreated) > 0 {
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("Evidence created: "+strings.Join(event.EvidenceCreated, ", ")))
	}
}

func (e *TextEmitter) SessionFailed(event SessionFailedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintln(e.errOut, "")
	label := "Failed"
	if event.State == string(agent.StateCancelled) {
		label = "Cancelled"
	}
	line := errorStyle.Render(label+":") + " " + event.Error
	if event.Stage != "" {
		line += " " + mutedStyle.Render("(stage: "+event.Stage+")")
	}
	fmt.Fprintln(e.errOut, line)
	if len(event.EvidenceCreated) > 0 {
		fmt.Fprintln(e.errOut, "  "+mutedStyle.Render("Evidence created before failure: "+strings.Join(event.EvidenceCreated, ", ")))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatMillis(ms int64) string {
	return timeutil.Elapsed(time.Duration(ms) * time.Millisecond)
}
