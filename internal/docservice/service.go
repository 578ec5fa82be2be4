// Package docservice coordinates the article library, the index and the
// highlight store behind the HTTP and MCP surfaces.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/starford/marginalia/internal/annotate"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/highlights"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/sanitize"
	"github.com/starford/marginalia/internal/storage"
)

// ErrNoteNotSaved reports a highlight that was created but whose note could
// not be stored. The highlight exists without the note.
var ErrNoteNotSaved = errors.New("highlight saved without its note")

// DocumentDetail is the full representation of an archived article.
type DocumentDetail struct {
	models.Document
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Highlights  int            `json:"highlights"`
}

// Rendered is an article with every highlight applied.
type Rendered struct {
	Path    string             `json:"path"`
	Title   string             `json:"title"`
	HTML    string             `json:"html"`
	Text    string             `json:"text"`
	Markers []annotate.Marker  `json:"markers"`
	Applied int                `json:"applied"`
	Skipped int                `json:"skipped"`
	Items   []models.Highlight `json:"highlights"`
}

// Article is the structured form of a new archive entry.
type Article struct {
	Title     string
	FeedURL   string
	Link      string
	Published time.Time
	Body      string
}

// Service coordinates storage, index and highlight operations.
type Service struct {
	store    storage.Provider
	db       *index.DB
	indexer  *index.Indexer
	san      *sanitize.Sanitizer
	renderer *annotate.Renderer
	hl       *highlights.Store
	logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewService creates a document service.
func NewService(store storage.Provider, db *index.DB, indexer *index.Indexer, san *sanitize.Sanitizer, hl *highlights.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		db:       db,
		indexer:  indexer,
		san:      san,
		renderer: annotate.NewRenderer(logger),
		hl:       hl,
		logger:   logger,
		loaded:   make(map[string]bool),
	}
}

// GetDocument reads an article from the library.
func (s *Service) GetDocument(ctx context.Context, path string) (*DocumentDetail, error) {
	data, err := s.read(path)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, path, data)
}

// CreateDocument writes a new article and indexes it.
func (s *Service) CreateDocument(ctx context.Context, path string, content []byte) (*DocumentDetail, error) {
	if !storage.IsDocument(path) {
		return nil, fmt.Errorf("%w: %s is not an .html document", apperr.ErrInvalid, path)
	}
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.indexer.IndexFile(path, content); err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, path, content)
}

// ArchiveArticle composes frontmatter for a structured article and creates it.
func (s *Service) ArchiveArticle(ctx context.Context, path string, a Article) (*DocumentDetail, error) {
	fm := map[string]any{}
	if a.Title != "" {
		fm["title"] = a.Title
	}
	if a.FeedURL != "" {
		fm["feed"] = a.FeedURL
	}
	if a.Link != "" {
		fm["link"] = a.Link
	}
	if !a.Published.IsZero() {
		fm["published"] = a.Published.UTC().Format(time.RFC3339)
	}
	data, err := parser.Compose(fm, a.Body)
	if err != nil {
		return nil, err
	}
	return s.CreateDocument(ctx, path, data)
}

// UpdateDocument writes new content with optimistic concurrency on the file
// checksum. Highlights are kept; their offsets refer to the new text.
func (s *Service) UpdateDocument(ctx context.Context, path string, content []byte, ifMatch string) (*DocumentDetail, error) {
	existing, err := s.read(path)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.indexer.IndexFile(path, content); err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, path, content)
}

// DeleteDocument removes an article, its index entry and its highlights.
func (s *Service) DeleteDocument(_ context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteDocument(path); err != nil {
		return err
	}
	s.Forget(path)
	return nil
}

// Forget drops cached highlights of a document removed outside the service.
func (s *Service) Forget(path string) {
	s.hl.Forget(path)
	s.mu.Lock()
	delete(s.loaded, path)
	s.mu.Unlock()
}

// ListDocuments returns a page of indexed articles.
func (s *Service) ListDocuments(_ context.Context, limit, offset int, feed, sort string) ([]models.Document, int, error) {
	rows, total, err := s.db.ListDocuments(limit, offset, feed, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]models.Document, len(rows))
	for i, r := range rows {
		items[i] = documentFromRow(r)
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Tree returns the sanitized content tree of an article.
func (s *Service) Tree(path string) (*html.Node, string, error) {
	data, err := s.read(path)
	if err != nil {
		return nil, "", err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, "", err
	}
	root, err := s.san.Tree(res.Body)
	if err != nil {
		return nil, "", err
	}
	return root, res.Title, nil
}

// RenderDocument applies every highlight of the article to a fresh tree.
func (s *Service) RenderDocument(ctx context.Context, path string) (*Rendered, error) {
	root, title, err := s.Tree(path)
	if err != nil {
		return nil, err
	}
	items, err := s.Highlights(ctx, path)
	if err != nil {
		return nil, err
	}

	out, report := s.renderer.Render(root, items)
	markup, err := annotate.RenderInner(out)
	if err != nil {
		return nil, err
	}

	markers := annotate.Markers(out)
	if markers == nil {
		markers = []annotate.Marker{}
	}
	return &Rendered{
		Path:    path,
		Title:   title,
		HTML:    markup,
		Text:    annotate.Projection(root),
		Markers: markers,
		Applied: report.Applied,
		Skipped: report.Skipped,
		Items:   items,
	}, nil
}

// CaptureSelection converts a path-addressed selection into offsets.
func (s *Service) CaptureSelection(_ context.Context, path string, sel annotate.PathSelection) (annotate.Range, error) {
	root, _, err := s.Tree(path)
	if err != nil {
		return annotate.Range{}, err
	}
	rng, ok := annotate.CapturePaths(root, sel)
	if !ok {
		return annotate.Range{}, fmt.Errorf("%w: no selection", apperr.ErrInvalid)
	}
	return rng, nil
}

// Highlights returns the highlights of an article ordered by start offset.
func (s *Service) Highlights(ctx context.Context, path string) ([]models.Highlight, error) {
	if _, err := s.db.GetDocument(path); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx, path); err != nil {
		return nil, err
	}
	return s.hl.ForDocument(path), nil
}

// CreateHighlight highlights [start, end) of the article's text and waits
// for the write to be confirmed. The highlighted text is taken from the
// document, never from the caller.
//
// A note is stored by a second write. If only that write fails, the created
// highlight is returned together with an error wrapping ErrNoteNotSaved.
func (s *Service) CreateHighlight(ctx context.Context, path string, start, end int, color models.Color, note *string) (models.Highlight, error) {
	root, _, err := s.Tree(path)
	if err != nil {
		return models.Highlight{}, err
	}
	text := annotate.Projection(root)
	if start < 0 || end <= start || end > utf8.RuneCountInString(text) {
		return models.Highlight{}, fmt.Errorf("%w: range [%d,%d) outside document text", apperr.ErrInvalid, start, end)
	}
	if err := s.ensureLoaded(ctx, path); err != nil {
		return models.Highlight{}, err
	}

	runes := []rune(text)
	h, pending, err := s.hl.Create(ctx, path, string(runes[start:end]), start, end, color)
	if err != nil {
		return models.Highlight{}, err
	}
	if err := pending.Wait(ctx); err != nil {
		return models.Highlight{}, err
	}
	if note != nil && *note != "" {
		withNote, err := s.UpdateHighlight(ctx, h.ID, models.HighlightPatch{Note: note})
		if err != nil {
			return h, fmt.Errorf("%w: %s: %w", ErrNoteNotSaved, h.ID, err)
		}
		return withNote, nil
	}
	return h, nil
}

// UpdateHighlight changes the note and/or color of a highlight.
func (s *Service) UpdateHighlight(ctx context.Context, id string, patch models.HighlightPatch) (models.Highlight, error) {
	if patch.Empty() {
		return models.Highlight{}, fmt.Errorf("%w: nothing to update", apperr.ErrInvalid)
	}
	if _, err := s.locate(ctx, id); err != nil {
		return models.Highlight{}, err
	}
	h, pending, err := s.hl.Update(ctx, id, patch)
	if err != nil {
		return models.Highlight{}, err
	}
	if err := pending.Wait(ctx); err != nil {
		return models.Highlight{}, err
	}
	return h, nil
}

// DeleteHighlight removes a highlight.
func (s *Service) DeleteHighlight(ctx context.Context, id string) error {
	doc, err := s.locate(ctx, id)
	if err != nil {
		return err
	}
	pending, err := s.hl.Delete(ctx, id, doc)
	if err != nil {
		return err
	}
	return pending.Wait(ctx)
}

// locate finds the document of a highlight and makes sure the store holds it.
func (s *Service) locate(ctx context.Context, id string) (string, error) {
	if h, ok := s.hl.Get(id); ok {
		return h.DocumentID, nil
	}
	h, err := s.db.GetHighlight(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.ensureLoaded(ctx, h.DocumentID); err != nil {
		return "", err
	}
	return h.DocumentID, nil
}

// ensureLoaded fetches a document's highlights into the store once. After
// that the store is authoritative for the document.
func (s *Service) ensureLoaded(ctx context.Context, path string) error {
	s.mu.Lock()
	done := s.loaded[path]
	s.mu.Unlock()
	if done {
		return nil
	}
	if err := s.hl.FetchForDocument(ctx, path); err != nil {
		return err
	}
	s.mu.Lock()
	s.loaded[path] = true
	s.mu.Unlock()
	return nil
}

func (s *Service) read(path string) ([]byte, error) {
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Service) buildDetail(ctx context.Context, path string, data []byte) (*DocumentDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	d := &DocumentDetail{
		Document: models.Document{
			ID:          path,
			Title:       res.Title,
			FeedURL:     res.FeedURL,
			Link:        res.Link,
			Content:     data,
			Checksum:    checksum.Sum(data),
			PublishedAt: res.Published,
			UpdatedAt:   time.Now().UTC(),
		},
		Content:     string(data),
		Frontmatter: res.Frontmatter,
	}
	if row, err := s.db.GetDocument(path); err == nil {
		d.UpdatedAt = row.UpdatedAt
	}
	n, err := s.db.CountHighlights(ctx, path)
	if err != nil {
		return nil, err
	}
	d.Highlights = n
	return d, nil
}

func documentFromRow(r index.DocumentRow) models.Document {
	return models.Document{
		ID:          r.Path,
		Title:       r.Title,
		FeedURL:     r.FeedURL,
		Link:        r.Link,
		Checksum:    r.Checksum,
		PublishedAt: r.PublishedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
