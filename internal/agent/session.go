package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"pretorin/internal/codexruntime"
)

// State is a session's position in its lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateBinaryReady   State = "binary_ready"
	StateConfigWritten State = "config_written"
	StateStarted       State = "started"
	StateStreaming     State = "streaming"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateUninitialized: {StateBinaryReady},
	StateBinaryReady:   {StateConfigWritten},
	StateConfigWritten: {StateStarted},
	StateStarted:       {StateStreaming},
	StateStreaming:     {StateCompleted},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExecutionError is a session that started but did not complete. Partial
// holds everything aggregated before the failure; it is never nil.
type ExecutionError struct {
	SessionID string
	State     State
	stage     codexruntime.Stage
	Partial   *Result
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.State == StateCancelled {
		return fmt.Sprintf("agent session %s cancelled during %s: %v", e.SessionID, e.stage, e.Err)
	}
	return fmt.Sprintf("agent session %s failed during %s: %v", e.SessionID, e.stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Stage() codexruntime.Stage { return e.stage }

// Installer is the slice of the binary cache a session needs.
type Installer interface {
	EnsureInstalled(ctx context.Context, version string) (string, error)
	PinnedVersion() string
}

// RetryPolicy bounds retries of transient download failures.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxTries: 3, InitialInterval: time.Second}

type RunnerConfig struct {
	Cache     Installer
	Isolation *codexruntime.Isolation
	Resolver  *Resolver
	// History records sessions; nil disables recording.
	History Recorder
	Logger  *slog.Logger
	Retry   RetryPolicy
	// StopGrace is how long a cancelled runtime gets between SIGTERM and SIGKILL.
	StopGrace time.Duration
	// ExitGrace is how long the runtime may linger after its final event.
	ExitGrace time.Duration
}

// Runner starts agent sessions. One Runner may run many sessions
// concurrently; sessions share only the binary cache and runtime home.
type Runner struct {
	cache     Installer
	isolation *codexruntime.Isolation
	resolver  *Resolver
	history   Recorder
	logger    *slog.Logger
	retry     RetryPolicy
	stopGrace time.Duration
	exitGrace time.Duration
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxTries == 0 {
		retry = DefaultRetryPolicy
	}
	stopGrace := cfg.StopGrace
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	exitGrace := cfg.ExitGrace
	if exitGrace <= 0 {
		exitGrace = 10 * time.Second
	}
	return &Runner{
		cache:     cfg.Cache,
		isolation: cfg.Isolation,
		resolver:  cfg.Resolver,
		history:   cfg.History,
		logger:    logger.With("component", "agent_session"),
		retry:     retry,
		stopGrace: stopGrace,
		exitGrace: exitGrace,
	}
}

// Request is one task submission.
type Request struct {
	Task       string
	WorkingDir string
	Skill      string
	// Stream writes response text to Output as it arrives.
	Stream bool
	Output io.Writer
	// OnEvent sees every decoded event in order, before aggregation.
	OnEvent func(StreamEvent)
	// OnState sees every state transition.
	OnState   func(*Session, State)
	Overrides Overrides
	// ExtraEnv is added to the runtime environment; it cannot replace the
	// isolation variables.
	ExtraEnv map[string]string
	// NoProviders runs with the built-in tool server only.
	NoProviders bool
}

// Session is one task execution. It is not reused.
type Session struct {
	ID         string
	Task       string
	Skill      string
	WorkingDir string
	Params     Parameters
	Stream     bool
	Version    string
	StartedAt  time.Time

	mu      sync.Mutex
	state   State
	onState func(*Session, State)
	logger  *slog.Logger
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.Error("invalid session transition", "from", from, "to", to)
		return
	}
	s.state = to
	hook := s.onState
	s.mu.Unlock()

	s.logger.Debug("session state", "from", from, "state", to)
	if hook != nil {
		hook(s, to)
	}
}

// Run executes one task to completion. On failure after the runtime was
// prepared the error is an *ExecutionError carrying the partial result; if
// the runtime could not be prepared it is a *codexruntime.RuntimeUnavailableError.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, errors.New("task is required")
	}

	var skill *Skill
	if req.Skill != "" {
		s, err := GetSkill(req.Skill)
		if err != nil {
			return nil, err
		}
		skill = &s
	}

	params, err := r.resolver.Resolve(req.Overrides)
	if err != nil {
		return nil, err
	}

	workDir, err := resolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:         uuid.NewString(),
		Task:       task,
		Skill:      req.Skill,
		WorkingDir: workDir,
		Params:     params,
		Stream:     req.Stream,
		Version:    r.cache.PinnedVersion(),
		StartedAt:  time.Now(),
		state:      StateUninitialized,
		onState:    req.OnState,
	}
	session.logger = r.logger.With("session_id", session.ID)
	session.logger.Info("session created",
		"skill", req.Skill,
		"model", params.Model.Value,
		"model_source", params.Model.Source,
		"endpoint", params.Endpoint.Value,
		"credential_source", params.Credential.Source,
		"working_dir", workDir)

	if r.history != nil {
		if err := r.history.Start(ctx, session); err != nil {
			session.logger.Warn("failed to record session start", "error", err)
		}
	}

	result, runErr := r.run(ctx, session, req, skill)

	if r.history != nil {
		// Record even when ctx was cancelled.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := r.history.Finish(recordCtx, session, result, runErr); err != nil {
			session.logger.Warn("failed to record session outcome", "error", err)
		}
		cancel()
	}
	return result, runErr
}

func (r *Runner) run(ctx context.Context, s *Session, req Request, skill *Skill) (*Result, error) {
	binary, err := r.ensureBinary(ctx, s.Version, s.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(s, StateCancelled, codexruntime.StageInstallation, &Aggregator{}, nil, ctx.Err())
		}
		s.transition(StateFailed)
		return nil, &codexruntime.RuntimeUnavailableError{Version: s.Version, Err: err}
	}
	s.transition(StateBinaryReady)

	if _, err := r.isolation.WriteConfiguration(codexruntime.ProviderConfig{
		Model:            s.Params.Model.Value,
		ProviderName:     codexruntime.ReservedProviderName,
		EndpointURL:      s.Params.Endpoint.Value,
		CredentialEnvKey: codexruntime.EnvCredential,
		WireAPI:          codexruntime.WireAPIResponses,
		ProjectDir:       s.WorkingDir,
		SkipRegistry:     req.NoProviders,
	}); err != nil {
		return nil, r.fail(s, StateFailed, codexruntime.StageSessionStart, &Aggregator{}, nil, err)
	}
	s.transition(StateConfigWritten)

	env := r.isolation.BuildEnvironment(s.Params.Credential.Value, s.Params.Endpoint.Value, req.ExtraEnv)
	proc, err := startProcess(processConfig{
		Binary: binary,
		Args:   []string{"exec", "--experimental-json", "--skip-git-repo-check", "--cd", s.WorkingDir},
		Dir:    s.WorkingDir,
		Env:    codexruntime.Environ(env),
		Stdin:  BuildPrompt(s.Task, skill),
	}, s.logger)
	if err != nil {
		return nil, r.fail(s, StateFailed, codexruntime.StageSessionStart, &Aggregator{}, nil, err)
	}
	s.transition(StateStarted)

	return r.stream(ctx, s, req, proc)
}

// stream is the single consumer of the runtime's events.
func (r *Runner) stream(ctx context.Context, s *Session, req Request, proc *process) (*Result, error) {
	done := make(chan struct{})
	// The reader must be released before waiting on the process.
	release := sync.OnceFunc(func() { close(done) })
	defer release()
	events := proc.events(done)

	agg := &Aggregator{}
	s.transition(StateStreaming)

	var (
		completed bool
		streamErr error
		lingering <-chan time.Time
		reaped    bool
	)

consume:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session cancelled, terminating runtime", "error", ctx.Err())
			release()
			proc.stop(r.stopGrace)
			return nil, r.fail(s, StateCancelled, codexruntime.StageStreaming, agg, proc, ctx.Err())

		case <-lingering:
			s.logger.Warn("runtime still running after final event, terminating", "grace", r.exitGrace)
			release()
			proc.stop(r.stopGrace)
			reaped = true
			break consume

		case item, ok := <-events:
			if !ok {
				break consume
			}
			if item.err != nil {
				streamErr = item.err
				continue
			}

			event := item.event
			if req.OnEvent != nil {
				req.OnEvent(event)
			}
			agg.Add(event)
			if event.Kind == EventTextDelta && req.Stream && req.Output != nil {
				io.WriteString(req.Output, event.Text)
			}

			if event.Kind == EventTurnCompleted {
				completed = true
			}
			if event.Terminal() && lingering == nil {
				lingering = time.After(r.exitGrace)
			}
		}
	}

	release()
	exited, waitErr := proc.waitFor(ctx, r.exitGrace)
	if !exited && ctx.Err() == nil {
		s.logger.Warn("runtime closed its output but is still running, terminating", "grace", r.exitGrace)
		proc.stop(r.stopGrace)
		reaped = true
		_, waitErr = proc.waitFor(ctx, time.Second)
	}
	if ctx.Err() != nil {
		proc.stop(r.stopGrace)
		return nil, r.fail(s, StateCancelled, codexruntime.StageStreaming, agg, proc, ctx.Err())
	}

	switch {
	case agg.Failure() != "":
		return nil, r.fail(s, StateFailed, codexruntime.StageStreaming, agg, proc, errors.New(agg.Failure()))
	case streamErr != nil:
		return nil, r.fail(s, StateFailed, codexruntime.StageStreaming, agg, proc, streamErr)
	case waitErr != nil && !(completed && reaped):
		return nil, r.fail(s, StateFailed, codexruntime.StageStreaming, agg, proc, exitError(waitErr, proc.stderr.String()))
	case !completed:
		return nil, r.fail(s, StateFailed, codexruntime.StageStreaming, agg, proc, errors.New("runtime output ended without a completed turn"))
	}

	result := agg.Result()
	s.transition(StateCompleted)
	s.logger.Info("session completed",
		"items", len(result.Items),
		"response_chars", len(result.Response),
		"evidence", len(result.EvidenceCreated))
	return result, nil
}

func (r *Runner) fail(s *Session, state State, stage codexruntime.Stage, agg *Aggregator, proc *process, err error) error {
	execErr := &ExecutionError{
		SessionID: s.ID,
		State:     state,
		stage:     stage,
		Partial:   agg.Result(),
		ExitCode:  -1,
		Err:       err,
	}
	if proc != nil {
		execErr.ExitCode = proc.exitCode()
		execErr.Stderr = proc.stderr.String()
	}
	s.transition(state)

	logger := s.logger.With("state", state, "stage", stage, "error", err,
		"partial_chars", len(execErr.Partial.Response), "partial_items", len(execErr.Partial.Items))
	if state == StateCancelled {
		logger.Info("session ended")
	} else {
		logger.Error("session ended", "exit_code", execErr.ExitCode, "stderr", truncate(execErr.Stderr, 500))
	}
	return execErr
}

// Install prepares the pinned runtime binary without starting a session.
func (r *Runner) Install(ctx context.Context) (string, error) {
	version := r.cache.PinnedVersion()
	path, err := r.ensureBinary(ctx, version, r.logger)
	if err != nil {
		return "", &codexruntime.RuntimeUnavailableError{Version: version, Err: err}
	}
	return path, nil
}

// ensureBinary retries only transient download failures.
func (r *Runner) ensureBinary(ctx context.Context, version string, logger *slog.Logger) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialInterval

	path, err := backoff.Retry(ctx, func() (string, error) {
		path, err := r.cache.EnsureInstalled(ctx, version)
		if err == nil {
			return path, nil
		}
		var dl *codexruntime.DownloadError
		if errors.As(err, &dl) && ctx.Err() == nil {
			return "", err
		}
		return "", backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.retry.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("runtime download failed, retrying", "version", version, "error", err, "retry_in", next)
		}),
	)
	// A permanent error on the last try comes back still wrapped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return path, err
}

func resolveWorkingDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}
