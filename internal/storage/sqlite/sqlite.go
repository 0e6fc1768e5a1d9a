package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mistakeknot/autopilot/internal/core"
)

//go:embed schema.sql
var schema string

type Store struct {
	db dbHandle
}

// New opens (or creates) a file-backed store. SQLite is single-writer, so
// the pool is capped at one connection; this also makes the PRAGMAs apply
// to every statement.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("busy timeout: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

// NewInMemory opens an in-memory store for tests. The pool is capped at one
// connection; separate connections would each see an empty database.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Session operations

func (s *Store) CreateSession(ctx context.Context, sess core.Session) (core.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	if sess.Status == "" {
		sess.Status = core.StatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project, prompt, options_json, ui_session_id, status, cancellation_reason, loop_owner, consumed_seq, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Project, sess.Prompt, nullableJSON(sess.Options), sess.UISessionID,
		string(sess.Status), sess.CancellationReason, sess.LoopOwner, int64(sess.ConsumedSeq),
		sess.CreatedAt.Format(time.RFC3339Nano), sess.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.Session{}, fmt.Errorf("create session: %w", err)
	}
	sess.Messages = []core.Message{}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project, prompt, options_json, ui_session_id, status, cancellation_reason, loop_owner, consumed_seq, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Session{}, core.NotFoundf("session %q not found", id)
		}
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	msgs, err := s.MessagesAfter(ctx, id, 0)
	if err != nil {
		return core.Session{}, err
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	sess.Messages = msgs
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, project string, statuses []core.SessionStatus) ([]core.Session, error) {
	query := `SELECT id, project, prompt, options_json, ui_session_id, status, cancellation_reason, loop_owner, consumed_seq, created_at, updated_at
	          FROM sessions WHERE 1=1`
	var args []any
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) TransitionSession(ctx context.Context, id string, from []core.SessionStatus, to core.SessionStatus, reason string) (core.Session, bool, error) {
	if len(from) == 0 {
		return core.Session{}, false, fmt.Errorf("transition: empty from set")
	}
	query := `UPDATE sessions
	          SET status = ?, cancellation_reason = CASE WHEN ? <> '' THEN ? ELSE cancellation_reason END, updated_at = ?
	          WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := []any{string(to), reason, reason, time.Now().UTC().Format(time.RFC3339Nano), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Session{}, false, fmt.Errorf("transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Session{}, false, fmt.Errorf("transition session: %w", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return core.Session{}, false, err
	}
	return sess, n == 1, nil
}

func (s *Store) ClaimLoop(ctx context.Context, id, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET loop_owner = ?, updated_at = ?
		 WHERE id = ? AND loop_owner <> ? AND status IN (?, ?, ?)`,
		owner, time.Now().UTC().Format(time.RFC3339Nano), id, owner,
		string(core.StatusPending), string(core.StatusRunning), string(core.StatusCancelling),
	)
	if err != nil {
		return false, fmt.Errorf("claim loop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim loop: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, core.NotFoundf("session %q not found", id)
		}
		return false, fmt.Errorf("claim loop: %w", err)
	}
	return false, nil
}

// MarkConsumed advances the consumed-message cursor; it never moves back.
func (s *Store) MarkConsumed(ctx context.Context, sessionID string, seq uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET consumed_seq = ? WHERE id = ? AND consumed_seq < ?`,
		int64(seq), sessionID, int64(seq),
	)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

func (s *Store) SetUISession(ctx context.Context, id, uiSessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ui_session_id = ?, updated_at = ? WHERE id = ?`,
		uiSessionID, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set ui session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set ui session: %w", err)
	}
	if n == 0 {
		return core.NotFoundf("session %q not found", id)
	}
	return nil
}

func (s *Store) ReleaseLoop(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET loop_owner = '', updated_at = ? WHERE id = ? AND loop_owner = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id, owner,
	)
	if err != nil {
		return fmt.Errorf("release loop: %w", err)
	}
	return nil
}

// Scanner helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (core.Session, error) {
	var sess core.Session
	var options, uiSessionID, reason sql.NullString
	var consumedSeq int64
	var status, createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.Project, &sess.Prompt, &options, &uiSessionID,
		&status, &reason, &sess.LoopOwner, &consumedSeq, &createdAt, &updatedAt)
	if err != nil {
		return core.Session{}, err
	}
	sess.ConsumedSeq = uint64(consumedSeq)
	if options.Valid && options.String != "" {
		sess.Options = []byte(options.String)
	}
	sess.UISessionID = uiSessionID.String
	sess.CancellationReason = reason.String
	sess.Status = core.SessionStatus(status)
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return sess, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
