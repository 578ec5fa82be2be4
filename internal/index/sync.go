package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/marginalia/internal/annotate"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/sanitize"
	"github.com/starford/marginalia/internal/storage"
)

// Indexer keeps the documents table in step with the article library.
type Indexer struct {
	db     *DB
	store  storage.Provider
	san    *sanitize.Sanitizer
	logger *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(db *DB, store storage.Provider, san *sanitize.Sanitizer, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, store: store, san: san, logger: logger}
}

// Sync walks the library and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index, with their highlights
func (ix *Indexer) Sync() error {
	return ix.reconcile(nil)
}

// reconcile is Sync with change reporting. cb, if non-nil, receives every
// document it created, updated or removed.
func (ix *Indexer) reconcile(cb EventCallback) error {
	metas, err := ix.store.List("")
	if err != nil {
		return err
	}

	checksums, err := ix.db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		prev, known := checksums[m.Path]
		if prev == m.Checksum {
			continue
		}

		data, err := ix.store.Read(m.Path)
		if err != nil {
			ix.logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := ix.IndexFile(m.Path, data); err != nil {
			ix.logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		ix.logger.Debug("sync: indexed", slog.String("path", m.Path))
		if cb != nil {
			kind := KindCreated
			if known {
				kind = KindUpdated
			}
			cb(kind, m.Path)
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := ix.db.DeleteDocument(p); err != nil {
			ix.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		ix.logger.Debug("sync: removed stale", slog.String("path", p))
		if cb != nil {
			cb(KindDeleted, p)
		}
	}

	return nil
}

// IndexFile parses and sanitizes an article and upserts its plain-text
// projection. A projection change on a document that already has highlights
// is logged: their stored offsets may no longer line up with the text.
func (ix *Indexer) IndexFile(path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("index: parse %s: %w", path, err)
	}
	tree, err := ix.san.Tree(res.Body)
	if err != nil {
		return fmt.Errorf("index: sanitize %s: %w", path, err)
	}
	text := annotate.Projection(tree)
	projCS := checksum.String(text)

	if prev, err := ix.db.GetDocument(path); err == nil && prev.ProjectionChecksum != "" && prev.ProjectionChecksum != projCS {
		if n, err := ix.db.CountHighlights(context.Background(), path); err == nil && n > 0 {
			ix.logger.Warn("index: document text changed under existing highlights",
				slog.String("path", path),
				slog.Int("highlights", n))
		}
	}

	return ix.db.UpsertDocument(DocumentRow{
		Path:               path,
		Title:              res.Title,
		FeedURL:            res.FeedURL,
		Link:               res.Link,
		Checksum:           checksum.Sum(data),
		ProjectionChecksum: projCS,
		PublishedAt:        res.Published,
	}, text)
}
