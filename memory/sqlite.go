package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore on a local SQLite database. The schema
// is a single append-only table; metadata is stored as a JSON text column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_user_time
			ON memory_entries (user_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append writes one entry to the log.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, user_id, agent_name, session_id, type, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.AgentName, e.SessionID, string(e.Type), e.Content,
		string(metaJSON), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Query returns matching entries ordered by creation time ascending; when
// Limit is positive only the most recent Limit rows are returned.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.AgentName != "" {
		where = append(where, "agent_name = ?")
		args = append(args, f.AgentName)
	}
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}

	// Select newest first so LIMIT keeps the most recent rows, then reverse
	// back to ascending order.
	query := fmt.Sprintf(
		"SELECT id, user_id, agent_name, session_id, type, content, metadata, created_at FROM memory_entries WHERE %s ORDER BY created_at DESC, id DESC",
		strings.Join(where, " AND "),
	)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var typ, metaJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.AgentName, &e.SessionID, &typ, &e.Content, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Type = EntryType(typ)
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse entry timestamp: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
