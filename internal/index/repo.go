package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/marginalia/internal/apperr"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path               string
	Title              string
	FeedURL            string
	Link               string
	Checksum           string
	ProjectionChecksum string
	PublishedAt        time.Time
	UpdatedAt          time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertDocument inserts or replaces a document and its FTS entry within a
// transaction. body is the plain-text projection of the sanitized article.
func (db *DB) UpsertDocument(d DocumentRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	var published sql.NullTime
	if !d.PublishedAt.IsZero() {
		published = sql.NullTime{Time: d.PublishedAt, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO documents (path, title, feed, link, checksum, projection_checksum, body, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title               = excluded.title,
			feed                = excluded.feed,
			link                = excluded.link,
			checksum            = excluded.checksum,
			projection_checksum = excluded.projection_checksum,
			body                = excluded.body,
			published_at        = excluded.published_at,
			updated_at          = excluded.updated_at
	`, d.Path, d.Title, d.FeedURL, d.Link, d.Checksum, d.ProjectionChecksum, body, published, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, d.Path, d.Title, body); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteDocument removes a document and its FTS entry. Highlights go with it
// through the foreign key cascade.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetDocument returns one indexed document.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, title, feed, link, checksum, projection_checksum, published_at, updated_at
		FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	return d, nil
}

var sortColumns = map[string]string{
	"":             "updated_at DESC",
	"updated_at":   "updated_at DESC",
	"published_at": "published_at DESC",
	"title":        "title COLLATE NOCASE ASC",
	"path":         "path ASC",
}

// ListDocuments returns a page of documents, optionally filtered by feed, and
// the total number of matching documents.
func (db *DB) ListDocuments(limit, offset int, feed, sort string) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	order, ok := sortColumns[sort]
	if !ok {
		return nil, 0, fmt.Errorf("index: unknown sort %q: %w", sort, apperr.ErrInvalid)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents WHERE ? = '' OR feed = ?`, feed, feed).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, feed, link, checksum, projection_checksum, published_at, updated_at
		FROM documents
		WHERE ? = '' OR feed = ?
		ORDER BY `+order+`, path ASC
		LIMIT ? OFFSET ?`, feed, feed, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	return out, total, rows.Err()
}

// AllChecksums returns the stored checksum of every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*DocumentRow, error) {
	var (
		d         DocumentRow
		published sql.NullTime
	)
	if err := s.Scan(&d.Path, &d.Title, &d.FeedURL, &d.Link, &d.Checksum, &d.ProjectionChecksum, &published, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if published.Valid {
		d.PublishedAt = published.Time
	}
	return &d, nil
}
