package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretorin/internal/codexruntime"
)

const sessionTestVersion = "rust-v9.9.9-test"

// fakeInstaller hands out a prepared script, optionally failing first.
type fakeInstaller struct {
	mu    sync.Mutex
	path  string
	errs  []error
	calls int
	block bool
}

func (f *fakeInstaller) PinnedVersion() string { return sessionTestVersion }

func (f *fakeInstaller) EnsureInstalled(ctx context.Context, version string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if call <= len(f.errs) {
		return "", f.errs[call-1]
	}
	return f.path, nil
}

func (f *fakeInstaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeRuntime writes a /bin/sh script standing in for the runtime binary.
// It saves its prompt and environment into the working directory first.
func writeRuntime(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex-"+sessionTestVersion)
	script := "#!/bin/sh\n" +
		"cat > prompt.txt\n" +
		"printf '%s\\n%s\\n%s\\n%s\\n' \"$CODEX_HOME\" \"$OPENAI_API_KEY\" \"$OPENAI_BASE_URL\" \"$*\" > env.txt\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func jsonLines(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("echo '")
		b.WriteString(line)
		b.WriteString("'\n")
	}
	return b.String()
}

type sessionFixture struct {
	runner    *Runner
	installer *fakeInstaller
	isolation *codexruntime.Isolation
	workDir   string
}

func newSessionFixture(t *testing.T, body string) *sessionFixture {
	t.Helper()
	root := t.TempDir()
	installer := &fakeInstaller{path: writeRuntime(t, body)}
	isolation := &codexruntime.Isolation{
		Home:        filepath.Join(root, "codex"),
		SelfCommand: "/usr/local/bin/pretorin",
		Registry:    codexruntime.NewRegistry(filepath.Join(root, "mcp.json")),
		LookupEnv:   os.LookupEnv,
	}
	resolver := &Resolver{
		Settings:  mapConfig{},
		ModelKey:  noModelKey,
		LookupEnv: envFrom(map[string]string{"OPENAI_API_KEY": "sk-test"}),
	}
	runner := NewRunner(RunnerConfig{
		Cache:     installer,
		Isolation: isolation,
		Resolver:  resolver,
		Retry:     RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond},
		StopGrace: 2 * time.Second,
		ExitGrace: 300 * time.Millisecond,
	})
	return &sessionFixture{
		runner:    runner,
		installer: installer,
		isolation: isolation,
		workDir:   t.TempDir(),
	}
}

func (f *sessionFixture) request(task string) Request {
	return Request{Task: task, WorkingDir: f.workDir}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRunCompletesAndAggregates(t *testing.T) {
	f := newSessionFixture(t, jsonLines(
		`{"type":"thread.started","thread_id":"th_1"}`,
		`{"type":"turn.started"}`,
		`{"type":"text.delta","text":"a"}`,
		`{"type":"text.delta","text":"b"}`,
		`{"type":"item.completed","item":{"id":"X","type":"agent_message","text":"ab"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":3,"cached_input_tokens":0,"output_tokens":2}}`,
	))

	var (
		out    bytes.Buffer
		kinds  []EventKind
		states []State
	)
	req := f.request("check AC-02")
	req.Stream = true
	req.Output = &out
	req.OnEvent = func(e StreamEvent) { kinds = append(kinds, e.Kind) }
	req.OnState = func(_ *Session, s State) { states = append(states, s) }

	result, err := f.runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "ab", result.Response)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "X", result.Items[0].ID)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int64(5), result.Usage.Total())
	assert.Equal(t, "th_1", result.ThreadID)
	assert.Equal(t, "ab", out.String())

	assert.Equal(t, []EventKind{
		EventThreadStarted, EventTurnStarted, EventTextDelta, EventTextDelta, EventItemCompleted, EventTurnCompleted,
	}, kinds)
	assert.Equal(t, []State{
		StateBinaryReady, StateConfigWritten, StateStarted, StateStreaming, StateCompleted,
	}, states)

	env := readLines(t, filepath.Join(f.workDir, "env.txt"))
	require.Len(t, env, 4)
	assert.Equal(t, f.isolation.Home, env[0])
	assert.Equal(t, "sk-test", env[1])
	assert.Equal(t, DefaultEndpoint, env[2])
	assert.Equal(t, "exec --experimental-json --skip-git-repo-check --cd "+f.workDir, env[3])

	prompt, err := os.ReadFile(filepath.Join(f.workDir, "prompt.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(prompt), "Task:\ncheck AC-02"))

	_, err = os.Stat(f.isolation.ConfigPath())
	assert.NoError(t, err)
}

func TestRunWithoutStreamingWritesNothing(t *testing.T) {
	f := newSessionFixture(t, jsonLines(
		`{"type":"text.delta","text":"quiet"}`,
		`{"type":"turn.completed"}`,
	))
	var out bytes.Buffer
	req := f.request("task")
	req.Output = &out

	result, err := f.runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "quiet", result.Response)
	assert.Empty(t, out.String())
}

func TestRunSkillPrompt(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"turn.completed"}`))
	req := f.request("collect evidence")
	req.Skill = "evidence-collection"

	_, err := f.runner.Run(context.Background(), req)
	require.NoError(t, err)

	prompt, err := os.ReadFile(filepath.Join(f.workDir, "prompt.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "Skill: evidence-collection\n")
}

func TestRunNonZeroExitKeepsPartialResult(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"text.delta","text":"partial"}`)+
		"echo 'model endpoint refused the request' >&2\nexit 3")

	result, err := f.runner.Run(context.Background(), f.request("task"))
	require.Error(t, err)
	assert.Nil(t, result)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateFailed, execErr.State)
	assert.Equal(t, codexruntime.StageStreaming, execErr.Stage())
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "partial", execErr.Partial.Response)
	assert.Contains(t, err.Error(), "model endpoint refused the request")
}

func TestRunTurnFailed(t *testing.T) {
	f := newSessionFixture(t, jsonLines(
		`{"type":"text.delta","text":"half"}`,
		`{"type":"turn.failed","error":{"message":"quota exceeded"}}`,
	))

	_, err := f.runner.Run(context.Background(), f.request("task"))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateFailed, execErr.State)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, "half", execErr.Partial.Response)
}

func TestRunStreamEndsWithoutTerminalEvent(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"text.delta","text":"cut off"}`))

	_, err := f.runner.Run(context.Background(), f.request("task"))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateFailed, execErr.State)
	assert.Contains(t, err.Error(), "without a completed turn")
	assert.Equal(t, "cut off", execErr.Partial.Response)
}

func TestRunIgnoresNonEventOutput(t *testing.T) {
	f := newSessionFixture(t, "echo 'Reading prompt from stdin...'\n"+jsonLines(
		`{"type":"session.configured","model":"x"}`,
		`{"type":"text.delta","text":"ok"}`,
		`{"type":"turn.completed"}`,
	))

	result, err := f.runner.Run(context.Background(), f.request("task"))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Response)
}

func TestRunCancellationStopsRuntime(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"text.delta","text":"partial"}`)+"sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := f.request("task")
	req.OnEvent = func(StreamEvent) { cancel() }

	start := time.Now()
	_, err := f.runner.Run(ctx, req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.True(t, errors.Is(err, context.Canceled))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateCancelled, execErr.State)
	assert.Equal(t, "partial", execErr.Partial.Response)
}

func TestRunStopsRuntimeThatLingersAfterCompletion(t *testing.T) {
	f := newSessionFixture(t, jsonLines(
		`{"type":"text.delta","text":"done"}`,
		`{"type":"turn.completed"}`,
	)+"sleep 30")

	start := time.Now()
	result, err := f.runner.Run(context.Background(), f.request("task"))
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunStopsRuntimeThatClosesOutputWithoutExiting(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"text.delta","text":"half"}`)+
		"exec 1>&-\nsleep 30")

	start := time.Now()
	_, err := f.runner.Run(context.Background(), f.request("task"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateFailed, execErr.State)
	assert.Equal(t, "half", execErr.Partial.Response)
}

func TestRunRetriesDownloadErrors(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"turn.completed"}`))
	f.installer.errs = []error{
		&codexruntime.DownloadError{URL: "https://example.com/a", StatusCode: 502},
		&codexruntime.DownloadError{URL: "https://example.com/a", StatusCode: 503},
	}

	_, err := f.runner.Run(context.Background(), f.request("task"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.installer.callCount())
}

func TestRunGivesUpAfterMaxTries(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"turn.completed"}`))
	dl := &codexruntime.DownloadError{URL: "https://example.com/a", StatusCode: 502}
	f.installer.errs = []error{dl, dl, dl, dl}

	_, err := f.runner.Run(context.Background(), f.request("task"))
	var unavailable *codexruntime.RuntimeUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, codexruntime.StageDownload, unavailable.Stage())
	assert.Equal(t, 3, f.installer.callCount())
}

func TestRunDoesNotRetryChecksumMismatch(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"turn.completed"}`))
	f.installer.errs = []error{&codexruntime.ChecksumMismatchError{
		Platform: codexruntime.PlatformLinuxX64, Expected: "aa", Actual: "bb",
	}}

	_, err := f.runner.Run(context.Background(), f.request("task"))
	require.Error(t, err)
	assert.Equal(t, 1, f.installer.callCount())

	var unavailable *codexruntime.RuntimeUnavailableError
	require.True(t, errors.As(err, &unavailable))
	var mismatch *codexruntime.ChecksumMismatchError
	assert.True(t, errors.As(err, &mismatch))
	stage, ok := codexruntime.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, codexruntime.StageVerification, stage)
}

func TestRunCancelledDuringInstall(t *testing.T) {
	f := newSessionFixture(t, "")
	f.installer.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.runner.Run(ctx, f.request("task"))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateCancelled, execErr.State)
	assert.Equal(t, codexruntime.StageInstallation, execErr.Stage())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	f := newSessionFixture(t, "")

	_, err := f.runner.Run(context.Background(), f.request("   "))
	assert.ErrorContains(t, err, "task is required")

	req := f.request("task")
	req.Skill = "unknown"
	_, err = f.runner.Run(context.Background(), req)
	assert.True(t, errors.Is(err, ErrUnknownSkill))

	req = f.request("task")
	req.WorkingDir = filepath.Join(f.workDir, "missing")
	_, err = f.runner.Run(context.Background(), req)
	assert.ErrorContains(t, err, "working directory")

	f.runner.resolver.LookupEnv = envFrom(nil)
	_, err = f.runner.Run(context.Background(), f.request("task"))
	assert.True(t, errors.Is(err, ErrNoCredential))

	assert.Zero(t, f.installer.callCount())
}

func TestRunRejectsUnsafeModel(t *testing.T) {
	f := newSessionFixture(t, jsonLines(`{"type":"turn.completed"}`))
	req := f.request("task")
	req.Overrides.Model = "gpt-4o\n[model_providers.evil]"

	_, err := f.runner.Run(context.Background(), req)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, codexruntime.StageSessionStart, execErr.Stage())
	_, statErr := os.Stat(filepath.Join(f.workDir, "env.txt"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(StateUninitialized, StateBinaryReady))
	assert.True(t, canTransition(StateStreaming, StateCompleted))
	assert.True(t, canTransition(StateStarted, StateCancelled))
	assert.False(t, canTransition(StateUninitialized, StateStreaming))
	assert.False(t, canTransition(StateCompleted, StateFailed))
	assert.False(t, canTransition(StateCancelled, StateCompleted))
}
