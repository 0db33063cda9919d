package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// UsageLog keeps per-generation accounting in sqlite. Only metadata is
// stored; prompts and responses never touch disk.
type UsageLog struct {
	db *sql.DB
}

// Record is one generation's accounting entry.
type Record struct {
	InvocationID string
	Command      string
	ChannelID    string
	Outcome      string
	Duration     time.Duration
}

// Open opens (or creates) the usage database at path.
func Open(path string) (*UsageLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			invocation_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_generations_command ON generations(command);
		CREATE INDEX IF NOT EXISTS idx_generations_channel_id ON generations(channel_id);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &UsageLog{db: db}, nil
}

// Close closes the database connection
func (u *UsageLog) Close() error {
	return u.db.Close()
}

// Add inserts one generation record.
func (u *UsageLog) Add(record Record) error {
	_, err := u.db.Exec(
		`INSERT OR REPLACE INTO generations
		(invocation_id, command, channel_id, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.InvocationID,
		record.Command,
		record.ChannelID,
		record.Outcome,
		record.Duration.Milliseconds(),
		time.Now(),
	)
	return err
}

// Get retrieves one generation record by invocation id.
func (u *UsageLog) Get(invocationID string) (*Record, error) {
	var record Record
	var durationMs int64
	err := u.db.QueryRow(
		`SELECT invocation_id, command, channel_id, outcome, duration_ms
		FROM generations WHERE invocation_id = ?`,
		invocationID,
	).Scan(
		&record.InvocationID,
		&record.Command,
		&record.ChannelID,
		&record.Outcome,
		&durationMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("generation not found: %s", invocationID)
		}
		return nil, err
	}
	record.Duration = time.Duration(durationMs) * time.Millisecond
	return &record, nil
}

// Totals returns the number of recorded generations per command.
func (u *UsageLog) Totals() (map[string]int64, error) {
	rows, err := u.db.Query(`SELECT command, COUNT(*) FROM generations GROUP BY command`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var command string
		var count int64
		if err := rows.Scan(&command, &count); err != nil {
			return nil, err
		}
		totals[command] = count
	}

	return totals, rows.Err()
}
