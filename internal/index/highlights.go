package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
)

// CreateHighlight stores a new highlight. The document must be indexed.
func (db *DB) CreateHighlight(ctx context.Context, h models.Highlight) error {
	var note sql.NullString
	if h.Note != nil {
		note = sql.NullString{String: *h.Note, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO highlights (id, document_id, text, note, color, start_offset, end_offset, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.DocumentID, h.Text, note, string(h.Color), h.StartOffset, h.EndOffset, h.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("index: create highlight %s: %w", h.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("index: create highlight: %w", err)
	}
	return nil
}

// UpdateHighlight applies a note and/or color change. Offsets never change.
func (db *DB) UpdateHighlight(ctx context.Context, id string, patch models.HighlightPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Note != nil {
		sets = append(sets, "note = ?")
		if *patch.Note == "" {
			args = append(args, nil)
		} else {
			args = append(args, *patch.Note)
		}
	}
	if patch.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, string(*patch.Color))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := db.conn.ExecContext(ctx, `UPDATE highlights SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("index: update highlight: %w", err)
	}
	return requireRow(res, id)
}

// DeleteHighlight removes a highlight by id.
func (db *DB) DeleteHighlight(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete highlight: %w", err)
	}
	return requireRow(res, id)
}

// ListHighlights returns every highlight of a document ordered by start offset.
func (db *DB) ListHighlights(ctx context.Context, documentID string) ([]models.Highlight, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, document_id, text, note, color, start_offset, end_offset, created_at
		FROM highlights
		WHERE document_id = ?
		ORDER BY start_offset ASC, end_offset ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("index: list highlights: %w", err)
	}
	defer rows.Close()

	var out []models.Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// GetHighlight returns one highlight by id.
func (db *DB) GetHighlight(ctx context.Context, id string) (*models.Highlight, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, document_id, text, note, color, start_offset, end_offset, created_at
		FROM highlights WHERE id = ?`, id)
	h, err := scanHighlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get highlight: %w", err)
	}
	return h, nil
}

// CountHighlights returns the number of stored highlights of a document.
func (db *DB) CountHighlights(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM highlights WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count highlights: %w", err)
	}
	return n, nil
}

func scanHighlight(s scanner) (*models.Highlight, error) {
	var (
		h     models.Highlight
		note  sql.NullString
		color string
	)
	if err := s.Scan(&h.ID, &h.DocumentID, &h.Text, &note, &color, &h.StartOffset, &h.EndOffset, &h.CreatedAt); err != nil {
		return nil, err
	}
	if note.Valid {
		n := note.String
		h.Note = &n
	}
	h.Color = models.Color(color)
	return &h, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("index: highlight %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
