package index

import (
	"context"

	"github.com/starford/marginalia/internal/highlights"
	"github.com/starford/marginalia/internal/models"
)

// DocumentIndex defines the interface for document indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type DocumentIndex interface {
	UpsertDocument(d DocumentRow, body string) error
	DeleteDocument(path string) error
	GetChecksum(path string) (string, error)
	GetDocument(path string) (*DocumentRow, error)
	ListDocuments(limit, offset int, feed, sort string) ([]DocumentRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	GetHighlight(ctx context.Context, id string) (*models.Highlight, error)
	CountHighlights(ctx context.Context, documentID string) (int, error)
	Close() error
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ DocumentIndex      = (*DB)(nil)
	_ highlights.Gateway = (*DB)(nil)
)
