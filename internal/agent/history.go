package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pretorin/internal/codexruntime"
	"pretorin/pkg/db"
)

// Recorder persists session outcomes.
type Recorder interface {
	Start(ctx context.Context, s *Session) error
	Finish(ctx context.Context, s *Session, result *Result, err error) error
}

// Record is one row of session history.
type Record struct {
	ID             string     `json:"id"`
	Task           string     `json:"task"`
	Skill          string     `json:"skill,omitempty"`
	Model          string     `json:"model"`
	Endpoint       string     `json:"endpoint"`
	WorkingDir     string     `json:"working_dir"`
	RuntimeVersion string     `json:"runtime_version"`
	State          State      `json:"state"`
	FailedStage    string     `json:"failed_stage,omitempty"`
	Error          string     `json:"error,omitempty"`
	ResponseChars  int        `json:"response_chars"`
	ItemCount      int        `json:"item_count"`
	EvidenceCount  int        `json:"evidence_count"`
	Usage          Usage      `json:"usage"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// History stores session records in the agent_sessions table.
type History struct {
	db *db.DB
}

func NewHistory(database *db.DB) *History {
	return &History{db: database}
}

func (h *History) Start(ctx context.Context, s *Session) error {
	_, err := h.db.Write.ExecContext(ctx,
		`INSERT INTO agent_sessions(id, task, skill, model, endpoint, working_dir, runtime_version, state, started_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Task, s.Skill, s.Params.Model.Value, s.Params.Endpoint.Value, s.WorkingDir, s.Version,
		string(s.State()), s.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record session %s: %w", s.ID, err)
	}
	return nil
}

// Finish stores the final state. On failure the partial result carried by
// the error is what gets counted.
func (h *History) Finish(ctx context.Context, s *Session, result *Result, runErr error) error {
	var failedStage, message string
	if runErr != nil {
		message = runErr.Error()
		if stage, ok := codexruntime.StageOf(runErr); ok {
			failedStage = string(stage)
		}
		var execErr *ExecutionError
		if result == nil && errors.As(runErr, &execErr) {
			result = execErr.Partial
		}
	}
	if result == nil {
		result = &Result{}
	}
	var usage Usage
	if result.Usage != nil {
		usage = *result.Usage
	}

	res, err := h.db.Write.ExecContext(ctx,
		`UPDATE agent_sessions SET
		   state = ?, failed_stage = ?, error = ?,
		   response_chars = ?, item_count = ?, evidence_count = ?,
		   input_tokens = ?, cached_input_tokens = ?, output_tokens = ?,
		   finished_at = ?
		 WHERE id = ?`,
		string(s.State()), failedStage, message,
		len(result.Response), len(result.Items), len(result.EvidenceCreated),
		usage.InputTokens, usage.CachedInputTokens, usage.OutputTokens,
		time.Now().UnixMilli(), s.ID)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish session %s: no such session", s.ID)
	}
	return nil
}

const recordColumns = `id, task, skill, model, endpoint, working_dir, runtime_version, state, failed_stage, error,
	response_chars, item_count, evidence_count, input_tokens, cached_input_tokens, output_tokens, started_at, finished_at`

// Recent returns up to limit sessions, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Read.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM agent_sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one session by id or by an id prefix that matches exactly one
// session, such as the short ids `agent history` prints.
func (h *History) Get(ctx context.Context, id string) (Record, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || strings.Trim(id, "0123456789abcdefghijklmnopqrstuvwxyz-") != "" {
		return Record{}, fmt.Errorf("invalid session id %q", id)
	}

	rows, err := h.db.Read.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM agent_sessions WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC, started_at DESC LIMIT 2`,
		id, id+"%", id)
	if err != nil {
		return Record{}, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	var matches []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Record{}, err
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	switch {
	case len(matches) == 0:
		return Record{}, fmt.Errorf("session %s not found", id)
	case matches[0].ID == id, len(matches) == 1:
		return matches[0], nil
	default:
		return Record{}, fmt.Errorf("session id %s is ambiguous", id)
	}
}

// Prune keeps the newest keep sessions and deletes the rest.
func (h *History) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var deleted int64
	err := h.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM agent_sessions WHERE id NOT IN (
			   SELECT id FROM agent_sessions ORDER BY started_at DESC, id LIMIT ?
			 )`, keep)
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		state    string
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Task, &rec.Skill, &rec.Model, &rec.Endpoint, &rec.WorkingDir,
		&rec.RuntimeVersion, &state, &rec.FailedStage, &rec.Error,
		&rec.ResponseChars, &rec.ItemCount, &rec.EvidenceCount,
		&rec.Usage.InputTokens, &rec.Usage.CachedInputTokens, &rec.Usage.OutputTokens,
		&started, &finished)
	if err != nil {
		return Record{}, err
	}
	rec.State = State(state)
	rec.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		rec.FinishedAt = &t
	}
	return rec, nil
}
