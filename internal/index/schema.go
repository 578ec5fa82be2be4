// Package index provides the SQLite store for archived documents and their
// highlights, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path                TEXT PRIMARY KEY,
	title               TEXT NOT NULL DEFAULT '',
	feed                TEXT NOT NULL DEFAULT '',
	link                TEXT NOT NULL DEFAULT '',
	checksum            TEXT NOT NULL DEFAULT '',
	projection_checksum TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	published_at        DATETIME,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_feed ON documents(feed);

CREATE TABLE IF NOT EXISTS highlights (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
	text         TEXT NOT NULL DEFAULT '',
	note         TEXT,
	color        TEXT NOT NULL,
	start_offset INTEGER NOT NULL CHECK (start_offset >= 0),
	end_offset   INTEGER NOT NULL CHECK (end_offset > start_offset),
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_highlights_document ON highlights(document_id, start_offset);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
