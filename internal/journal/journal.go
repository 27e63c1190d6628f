// Package journal keeps a durable history of annotation results in SQLite.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	_ "github.com/mattn/go-sqlite3"
)

// Journal records annotation results. It implements annotate.Sink.
type Journal struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Entry is one stored annotation result.
type Entry struct {
	ID int64 `json:"id"`
	annotate.Result
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	j := &Journal{conn: conn}

	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL,
		x INTEGER DEFAULT 0,
		y INTEGER DEFAULT 0,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_label ON annotations(label);
	CREATE INDEX IF NOT EXISTS idx_annotations_session ON annotations(session);
	CREATE INDEX IF NOT EXISTS idx_annotations_timestamp ON annotations(timestamp);
	`

	_, err := j.conn.Exec(schema)
	return err
}

// Record stores results in a single transaction.
func (j *Journal) Record(results []annotate.Result) error {
	if len(results) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO annotations (session, label, x, y, width, height, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(r.Session, r.Label, r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height, r.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert annotation: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query(`
		SELECT id, session, label, x, y, width, height, timestamp
		FROM annotations ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Label, &e.Box.X, &e.Box.Y, &e.Box.Width, &e.Box.Height, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// LabelCounts returns how often each label was recorded over the journal's
// lifetime, most frequent first.
func (j *Journal) LabelCounts() ([]annotate.LabelCount, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query(`
		SELECT label, COUNT(*) AS n FROM annotations
		GROUP BY label ORDER BY n DESC, label ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	counts := []annotate.LabelCount{}
	for rows.Next() {
		var c annotate.LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}
