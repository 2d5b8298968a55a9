package db

import (
	"time"
)

// defaultListLimit caps list queries when the caller passes no limit.
const defaultListLimit = 100

// CommandRecord is one AT command sent to the camera.
type CommandRecord struct {
	ID      int64     `json:"id"`
	Command string    `json:"command"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// RecordCommand stores a sent command and the transport error, if any. It
// satisfies camera.CommandLogger.
func (db *DB) RecordCommand(command string, sendErr error) error {
	var errText string
	if sendErr != nil {
		errText = sendErr.Error()
	}
	_, err := db.Exec(
		"INSERT INTO commands (command, error, sent_unix_nanos) VALUES (?, ?, ?)",
		command, errText, db.clock.Now().UnixNano(),
	)
	return err
}

// Commands returns the most recent commands, newest first.
func (db *DB) Commands(limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := db.Query(
		`SELECT command_id, command, error, sent_unix_nanos FROM commands
		ORDER BY sent_unix_nanos DESC, command_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			rec   CommandRecord
			nanos int64
		)
		if err := rows.Scan(&rec.ID, &rec.Command, &rec.Error, &nanos); err != nil {
			return nil, err
		}
		rec.SentAt = time.Unix(0, nanos).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
