package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/autopilot/internal/core"
)

// Message queue operations

func (s *Store) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return core.Message{}, core.NotFoundf("session %q not found", msg.SessionID)
		}
		return core.Message{}, fmt.Errorf("append message: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var metaJSON any
	if len(msg.Metadata) > 0 {
		buf, _ := json.Marshal(msg.Metadata)
		metaJSON = string(buf)
	}

	// Seq assignment and insert happen in one statement, so concurrent
	// appenders cannot observe the same tail.
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO session_messages (id, session_id, seq, body, kind, metadata_json, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM session_messages WHERE session_id = ?), ?, ?, ?, ?)
		 RETURNING seq`,
		msg.ID, msg.SessionID, msg.SessionID, msg.Body, msg.Kind, metaJSON,
		msg.CreatedAt.Format(time.RFC3339Nano),
	)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return core.Message{}, fmt.Errorf("append message: %w", err)
	}
	msg.Seq = uint64(seq)
	return msg, nil
}

func (s *Store) MessagesAfter(ctx context.Context, sessionID string, afterSeq uint64) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, body, kind, metadata_json, created_at
		 FROM session_messages WHERE session_id = ? AND seq > ?
		 ORDER BY seq ASC`, sessionID, int64(afterSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var (
			msg            core.Message
			seq            int64
			kind, metadata sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &seq, &msg.Body, &kind, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Seq = uint64(seq)
		msg.Kind = kind.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &msg.Metadata)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// UI command bus operations

func (s *Store) EnqueueCommand(ctx context.Context, cmd core.UiCommand) (core.UiCommand, error) {
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO ui_commands (project, session_id, id, type, payload_json, meta_json, acknowledged, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(id), 0) + 1 FROM ui_commands WHERE project = ? AND session_id = ?), ?, ?, ?, 0, ?)
		 RETURNING id`,
		cmd.Project, cmd.SessionID, cmd.Project, cmd.SessionID, cmd.Type,
		nullableJSON(cmd.Payload), nullableJSON(cmd.Meta), cmd.CreatedAt.Format(time.RFC3339Nano),
	)
	if err := row.Scan(&cmd.ID); err != nil {
		return core.UiCommand{}, fmt.Errorf("enqueue command: %w", err)
	}
	cmd.Acknowledged = false
	return cmd, nil
}

func (s *Store) ListCommands(ctx context.Context, project, sessionID string) ([]core.UiCommand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, session_id, type, payload_json, meta_json, acknowledged, created_at
		 FROM ui_commands WHERE project = ? AND session_id = ?
		 ORDER BY id ASC`, project, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []core.UiCommand
	for rows.Next() {
		var (
			cmd           core.UiCommand
			payload, meta sql.NullString
			acked         int
			createdAt     string
		)
		if err := rows.Scan(&cmd.ID, &cmd.Project, &cmd.SessionID, &cmd.Type, &payload, &meta, &acked, &createdAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if payload.Valid && payload.String != "" {
			cmd.Payload = []byte(payload.String)
		}
		if meta.Valid && meta.String != "" {
			cmd.Meta = []byte(meta.String)
		}
		cmd.Acknowledged = acked != 0
		cmd.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// AckCommands marks the listed ids acknowledged. Unknown and
// already-acknowledged ids are ignored.
func (s *Store) AckCommands(ctx context.Context, project, sessionID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE ui_commands SET acknowledged = 1
	          WHERE project = ? AND session_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := []any{project, sessionID}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ack commands: %w", err)
	}
	return nil
}

// Snapshot slot

func (s *Store) GetSnapshot(ctx context.Context, project, sessionID string) (core.UiSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state_json, updated_at FROM ui_snapshots WHERE project = ? AND session_id = ?`,
		project, sessionID,
	)
	var state, updatedAt string
	if err := row.Scan(&state, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return core.UiSnapshot{}, core.NotFoundf("no snapshot for %s/%s", project, sessionID)
		}
		return core.UiSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap := core.UiSnapshot{Project: project, SessionID: sessionID, State: []byte(state)}
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return snap, nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap core.UiSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ui_snapshots (project, session_id, state_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project, session_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		snap.Project, snap.SessionID, string(snap.State), snap.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// PurgeAcknowledged deletes acknowledged commands created before the cutoff.
// Called by the sweeper; acknowledged commands are otherwise retained for
// audit.
func (s *Store) PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ui_commands WHERE acknowledged = 1 AND created_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purge acknowledged: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseStaleClaims clears loop ownership on terminal sessions. A claim on
// a live session is either held by a running loop or reclaimable through
// ClaimLoop, but a terminal session keeps a dangling owner when its process
// died between finishing and releasing.
func (s *Store) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET loop_owner = '' WHERE loop_owner <> '' AND status IN (?, ?, ?)`,
		string(core.StatusCompleted), string(core.StatusFailed), string(core.StatusCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}
