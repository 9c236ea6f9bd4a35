// Package journal persists launch history per bottle in a sqlite database.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultTailLimit   = 20
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS launches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bottle_id TEXT NOT NULL,
		executable TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		origin TEXT NOT NULL DEFAULT 'run',
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_launches_bottle ON launches(bottle_id, id)`,
}

// Entry is one recorded launch. Origin is "run" for direct launches and
// "recipe:<id>#<step>" for launches made while applying a recipe.
type Entry struct {
	BottleID   string    `json:"-"`
	Executable string    `json:"executable"`
	Args       []string  `json:"args,omitempty"`
	Origin     string    `json:"origin"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
}

// Journal is the launch history database.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a launch entry.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("journal: encode args: %w", err)
	}
	origin := entry.Origin
	if origin == "" {
		origin = "run"
	}
	return j.withWriteTx(ctx, "record launch", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO launches (bottle_id, executable, args, origin, started_at, duration_ms, exit_code, success)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        `,
			entry.BottleID,
			entry.Executable,
			string(args),
			origin,
			entry.StartedAt.UTC().Format(time.RFC3339Nano),
			entry.DurationMS,
			entry.ExitCode,
			boolToInt(entry.Success),
		)
		if err != nil {
			return fmt.Errorf("journal: insert launch: %w", err)
		}
		return nil
	})
}

// Tail returns the most recent launches for a bottle, newest first. A limit
// of zero or less falls back to a small default.
func (j *Journal) Tail(ctx context.Context, bottleID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultTailLimit
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT bottle_id, executable, args, origin, started_at, duration_ms, exit_code, success
        FROM launches
        WHERE bottle_id = ?
        ORDER BY id DESC
        LIMIT ?
    `, bottleID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query launches: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var args, startedAt string
		var success int
		if err := rows.Scan(
			&entry.BottleID,
			&entry.Executable,
			&args,
			&entry.Origin,
			&startedAt,
			&entry.DurationMS,
			&entry.ExitCode,
			&success,
		); err != nil {
			return nil, fmt.Errorf("journal: scan launch: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &entry.Args); err != nil {
			log.Printf("[Journal] launch for bottle %s: invalid args %q: %v", entry.BottleID, args, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			entry.StartedAt = t
		} else {
			log.Printf("[Journal] launch for bottle %s: invalid started_at %q", entry.BottleID, startedAt)
		}
		entry.Success = success != 0
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate launches: %w", err)
	}
	return entries, nil
}

// DeleteBottle drops every entry recorded for a bottle.
func (j *Journal) DeleteBottle(ctx context.Context, bottleID string) error {
	return j.withWriteTx(ctx, "delete bottle launches", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM launches WHERE bottle_id = ?`, bottleID); err != nil {
			return fmt.Errorf("journal: delete launches for %s: %w", bottleID, err)
		}
		return nil
	})
}

func (j *Journal) withWriteTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit %s: %w", op, err)
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("journal: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin schema transaction: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal: apply schema statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit schema transaction: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
