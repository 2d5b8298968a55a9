package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("capture session not found")

// Session sources.
const (
	SourceLive   = "live"
	SourceReplay = "replay"
	SourceMock   = "mock"
)

// Session is one run of the frame pipeline.
type Session struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Path      string     `json:"path,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int64      `json:"frames"`
}

// StartSession opens a session and returns its id. path is the serial
// device, the replayed capture, or empty.
func (db *DB) StartSession(source, path string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		"INSERT INTO capture_sessions (session_id, source, path, started_unix_nanos) VALUES (?, ?, ?, ?)",
		id, source, path, db.clock.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the end time and final frame count on a session.
func (db *DB) EndSession(id string, frames uint64) error {
	res, err := db.Exec(
		"UPDATE capture_sessions SET ended_unix_nanos = ?, frames = ? WHERE session_id = ?",
		db.clock.Now().UnixNano(), int64(frames), id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := db.Query(
		`SELECT session_id, source, path, started_unix_nanos, ended_unix_nanos, frames
		FROM capture_sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Source, &s.Path, &started, &ended, &s.Frames); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
