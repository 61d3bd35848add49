package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// GetControl reads the control row for a script. sql.ErrNoRows surfaces
// unchanged; the supervisor treats any read failure as "disabled".
func (s *Store) GetControl(ctx context.Context, scriptName string) (ControlRow, error) {
	const q = `SELECT script_name, enabled, status, pid, last_heartbeat, started_at, stopped_at, last_error, config
               FROM system_control WHERE script_name = $1`
	var c ControlRow
	err := s.db.QueryRowContext(ctx, q, scriptName).Scan(&c.ScriptName, &c.Enabled, &c.Status,
		&c.PID, &c.LastHeartbeat, &c.StartedAt, &c.StoppedAt, &c.LastError, &c.Config)
	return c, err
}

// UpdateHeartbeat refreshes last_heartbeat, pid and status for a script.
func (s *Store) UpdateHeartbeat(ctx context.Context, scriptName, status string, pid int) error {
	const stmt = `UPDATE system_control SET last_heartbeat=now(), pid=$2, status=$3 WHERE script_name=$1`
	_, err := s.db.ExecContext(ctx, stmt, scriptName, pid, status)
	return err
}

// MarkStarted records an engine launch.
func (s *Store) MarkStarted(ctx context.Context, scriptName string, pid int) error {
	const stmt = `UPDATE system_control SET status='running', pid=$2, started_at=now(), last_error=NULL
                  WHERE script_name=$1`
	_, err := s.db.ExecContext(ctx, stmt, scriptName, pid)
	return err
}

// MarkStopped writes the terminal control row for a script.
func (s *Store) MarkStopped(ctx context.Context, scriptName string) error {
	const stmt = `UPDATE system_control SET status='stopped', pid=NULL, stopped_at=now() WHERE script_name=$1`
	_, err := s.db.ExecContext(ctx, stmt, scriptName)
	return err
}

// SetControlError records a fatal startup or runtime failure.
func (s *Store) SetControlError(ctx context.Context, scriptName, lastError string) error {
	const stmt = `UPDATE system_control SET status='error', last_error=$2 WHERE script_name=$1`
	_, err := s.db.ExecContext(ctx, stmt, scriptName, lastError)
	return err
}

// InsertLogs batch-inserts structured log rows.
func (s *Store) InsertLogs(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const cols = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO system_logs
        (timestamp, source, script_name, level, message, context, duration_ms, items_processed, created_at)
        VALUES `)
	args := make([]any, 0, len(entries)*cols)
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte(',')
		}
		idx := i*cols + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7, idx+8)
		args = append(args, e.Timestamp, e.Source, e.ScriptName, e.Level, e.Message,
			contextJSON(e.Context), e.DurationMS, e.ItemsProcessed, time.Now())
	}
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// LatestLogTime returns the timestamp of the freshest log row for a source.
// Zero time (and no error) when the source has never logged.
func (s *Store) LatestLogTime(ctx context.Context, source string) (time.Time, error) {
	const q = `SELECT timestamp FROM system_logs WHERE source=$1 ORDER BY timestamp DESC LIMIT 1`
	var t time.Time
	err := s.db.QueryRowContext(ctx, q, source).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, err
}

func contextJSON(m map[string]any) pqtype.NullRawMessage {
	if len(m) == 0 {
		return pqtype.NullRawMessage{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
