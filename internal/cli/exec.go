package cli

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"pretorin/internal/agent"
	"pretorin/internal/codexruntime"
)

// Exit codes for agent runs.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitCancelled = 130
)

// RunOptions are the flags of `pretorin agent run`.
type RunOptions struct {
	Task       string
	WorkingDir string
	Skill      string
	Model      string
	Endpoint   string
	NoStream   bool
	JSON       bool
	NoMCP      bool
	Timeout    time.Duration
}

// RunAgent executes one task. Text mode streams the response to stdout and
// progress to stderr; JSON mode writes one JSON object per event to stdout.
func RunAgent(ctx context.Context, app *App, opts RunOptions) (int, error) {
	var emitter EventEmitter
	if opts.JSON {
		emitter = NewJSONEmitter(app.Out, app.Err)
	} else {
		emitter = NewTextEmitter(app.Err, app.Verbose)
	}

	if strings.TrimSpace(opts.Task) == "" {
		err := errors.New("a task is required")
		emitter.SessionFailed(SessionFailedEvent{Error: err.Error()})
		return ExitFailed, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var sessionID string
	started := time.Now()
	req := agent.Request{
		Task:        opts.Task,
		WorkingDir:  opts.WorkingDir,
		Skill:       opts.Skill,
		Stream:      !opts.NoStream && !opts.JSON,
		Output:      app.Out,
		Overrides:   agent.Overrides{Model: opts.Model, Endpoint: opts.Endpoint},
		NoProviders: opts.NoMCP,
		OnState: func(s *agent.Session, state agent.State) {
			sessionID = s.ID
			if state != agent.StateStarted {
				return
			}
			emitter.SessionStarted(SessionStartedEvent{
				SessionID:      s.ID,
				Skill:          s.Skill,
				Model:          s.Params.Model.Value,
				ModelSource:    string(s.Params.Model.Source),
				Endpoint:       s.Params.Endpoint.Value,
				WorkingDir:     s.WorkingDir,
				RuntimeVersion: s.Version,
			})
		},
		OnEvent: func(e agent.StreamEvent) {
			emitter.StreamEvent(sessionID, e)
		},
	}

	result, err := app.Runner(ctx).Run(ctx, req)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		failed := describeFailure(err)
		failed.SessionID = sessionID
		failed.DurationMS = elapsed
		if !opts.JSON {
			writeResponse(app.Out, failed.PartialResponse, opts.NoStream)
		}
		emitter.SessionFailed(failed)
		if failed.State == string(agent.StateCancelled) {
			return ExitCancelled, err
		}
		return ExitFailed, err
	}

	if !opts.JSON {
		writeResponse(app.Out, result.Response, opts.NoStream)
	}
	emitter.SessionCompleted(SessionCompletedEvent{
		SessionID:       sessionID,
		Response:        result.Response,
		ItemCount:       len(result.Items),
		Usage:           result.Usage,
		EvidenceCreated: result.EvidenceCreated,
		DurationMS:      elapsed,
	})
	return ExitOK, nil
}

// writeResponse finishes the text on stdout. Streamed text is already there
// and only needs its trailing newline.
func writeResponse(w io.Writer, response string, buffered bool) {
	if buffered {
		io.WriteString(w, response)
	}
	if response != "" && !strings.HasSuffix(response, "\n") {
		io.WriteString(w, "\n")
	}
}

func describeFailure(err error) SessionFailedEvent {
	event := SessionFailedEvent{Error: err.Error()}
	if stage, ok := codexruntime.StageOf(err); ok {
		event.Stage = string(stage)
	}

	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) {
		event.State = string(execErr.State)
		event.ExitCode = execErr.ExitCode
		if execErr.Partial != nil {
			event.PartialResponse = execErr.Partial.Response
			event.EvidenceCreated = execErr.Partial.EvidenceCreated
		}
		return event
	}

	var unavailable *codexruntime.RuntimeUnavailableError
	switch {
	case errors.As(err, &unavailable):
		event.State = string(agent.StateFailed)
	case errors.Is(err, agent.ErrNoCredential), errors.Is(err, agent.ErrUnknownSkill):
		event.Stage = string(codexruntime.StageResolution)
	}
	return event
}
