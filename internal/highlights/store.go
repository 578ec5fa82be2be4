// Package highlights keeps a document-keyed cache of highlights in step with a
// persistence gateway.
//
// Every mutation is optimistic: the cache changes first, the gateway call runs
// in the background, and a failed call takes the mutation back out of the
// cache. Callers observe the outcome through the returned Pending.
package highlights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
)

var (
	// ErrPersistence wraps every gateway failure reported through Pending.
	ErrPersistence = errors.New("highlights: persistence failed")
	ErrClosed      = errors.New("highlights: store closed")
)

// Gateway is the remote persistence for highlights. Any returned error is
// treated as a single failure signal.
type Gateway interface {
	CreateHighlight(ctx context.Context, h models.Highlight) error
	UpdateHighlight(ctx context.Context, id string, patch models.HighlightPatch) error
	DeleteHighlight(ctx context.Context, id string) error
	ListHighlights(ctx context.Context, documentID string) ([]models.Highlight, error)
}

// Store is the optimistic highlight cache of one document-view session.
// Construct it with New and release it with Close.
type Store struct {
	gw       Gateway
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
	observer func(Event)

	mu       sync.Mutex
	byDoc    map[string][]models.Highlight // sorted by StartOffset
	docOf    map[string]string             // highlight id -> document id
	inflight map[string]struct{}           // creates not yet confirmed
	deleting map[string]models.Highlight   // deletes not yet confirmed
	edits    map[string]*edits             // updates not yet confirmed
	touched  map[string]uint64             // highlight id -> last local mutation
	seq      uint64
	fetching int
	closed   bool

	wg sync.WaitGroup
}

// edits tracks the unconfirmed updates of one highlight. The cached value is
// base with every pending patch applied in order.
type edits struct {
	base    models.Highlight // note and color as last confirmed
	noteOp  uint64           // update that wrote base.Note
	colorOp uint64           // update that wrote base.Color
	pending []edit
}

type edit struct {
	op    uint64
	patch models.HighlightPatch
}

// settle removes update op from the pending list and, if it was confirmed,
// folds it into base unless a later confirmed update already wrote the field.
func (e *edits) settle(op uint64, patch models.HighlightPatch, ok bool) {
	e.pending = slices.DeleteFunc(e.pending, func(x edit) bool { return x.op == op })
	if !ok {
		return
	}
	if patch.Note != nil && op > e.noteOp {
		models.HighlightPatch{Note: patch.Note}.Apply(&e.base)
		e.noteOp = op
	}
	if patch.Color != nil && op > e.colorOp {
		e.base.Color = *patch.Color
		e.colorOp = op
	}
}

// apply returns h with the confirmed note and color, overlaid with the
// pending patches newer than the confirmed write of each field.
func (e *edits) apply(h models.Highlight) models.Highlight {
	h.Note = e.base.Clone().Note
	h.Color = e.base.Color
	for _, x := range e.pending {
		if x.patch.Note != nil && x.op > e.noteOp {
			models.HighlightPatch{Note: x.patch.Note}.Apply(&h)
		}
		if x.patch.Color != nil && x.op > e.colorOp {
			h.Color = *x.patch.Color
		}
	}
	return h
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rollback reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		s.now = fn
	}
}

// WithObserver registers fn to receive every cache change, including rollbacks.
// fn is called without the store lock held.
func WithObserver(fn func(Event)) Option {
	return func(s *Store) {
		s.observer = fn
	}
}

// New creates an empty Store backed by gw.
func New(gw Gateway, opts ...Option) *Store {
	s := &Store{
		gw:       gw,
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		now:      time.Now,
		byDoc:    make(map[string][]models.Highlight),
		docOf:    make(map[string]string),
		inflight: make(map[string]struct{}),
		deleting: make(map[string]models.Highlight),
		edits:    make(map[string]*edits),
		touched:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and caches a new highlight, then persists it.
// Ranges overlapping a cached highlight of the same document are rejected
// with apperr.ErrOverlap.
func (s *Store) Create(ctx context.Context, documentID, text string, start, end int, color models.Color) (models.Highlight, *Pending, error) {
	h := models.Highlight{
		ID:          s.newID(),
		DocumentID:  documentID,
		Text:        text,
		Color:       color,
		StartOffset: start,
		EndOffset:   end,
		CreatedAt:   s.now().UTC(),
	}
	if err := h.Validate(); err != nil {
		return models.Highlight{}, nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Highlight{}, nil, ErrClosed
	}
	if o, ok := s.overlapLocked(h); ok {
		s.mu.Unlock()
		return models.Highlight{}, nil, fmt.Errorf("%w: %s [%d,%d)", apperr.ErrOverlap, o.ID, o.StartOffset, o.EndOffset)
	}
	s.insertLocked(h.Clone())
	s.inflight[h.ID] = struct{}{}
	s.touched[h.ID] = s.nextSeqLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(Event{Kind: EventCreated, Highlight: h.Clone()})

	p := s.persist(ctx, "create", h, func(ctx context.Context) error {
		return s.gw.CreateHighlight(ctx, h.Clone())
	}, func(err error) {
		delete(s.inflight, h.ID)
		if err != nil {
			s.removeLocked(h.ID)
			if s.fetching == 0 {
				delete(s.touched, h.ID)
			}
		}
	})
	return h, p, nil
}

// Update applies patch to the cached highlight and persists it. A failed
// gateway call takes the patch back out; confirmed and still pending
// updates of the same highlight keep their effect.
func (s *Store) Update(ctx context.Context, id string, patch models.HighlightPatch) (models.Highlight, *Pending, error) {
	if patch.Color != nil && !patch.Color.Valid() {
		return models.Highlight{}, nil, fmt.Errorf("%w: unknown color %q", apperr.ErrInvalid, *patch.Color)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Highlight{}, nil, ErrClosed
	}
	docID, i, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return models.Highlight{}, nil, fmt.Errorf("highlight %s: %w", id, apperr.ErrNotFound)
	}
	prev := s.byDoc[docID][i].Clone()
	next := prev.Clone()
	patch.Apply(&next)
	s.byDoc[docID][i] = next

	e := s.edits[id]
	if e == nil {
		e = &edits{base: prev.Clone()}
		s.edits[id] = e
	}
	op := s.nextSeqLocked()
	e.pending = append(e.pending, edit{op: op, patch: patch})
	s.touched[id] = op
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(Event{Kind: EventUpdated, Highlight: next.Clone()})

	p := s.persist(ctx, "update", prev, func(ctx context.Context) error {
		return s.gw.UpdateHighlight(ctx, id, patch)
	}, func(err error) {
		e := s.edits[id]
		if e == nil {
			return
		}
		e.settle(op, patch, err == nil)
		if d, j, ok := s.findLocked(id); ok {
			s.byDoc[d][j] = e.apply(s.byDoc[d][j])
		}
		if len(e.pending) == 0 {
			delete(s.edits, id)
		}
	})
	return next.Clone(), p, nil
}

// Delete removes the highlight from the cache and the gateway. A failed
// gateway call re-inserts the removed value. Until the call settles the
// range stays reserved, so no overlapping highlight can be created.
func (s *Store) Delete(ctx context.Context, id, documentID string) (*Pending, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	docID, i, ok := s.findLocked(id)
	if !ok || docID != documentID {
		s.mu.Unlock()
		return nil, fmt.Errorf("highlight %s in %s: %w", id, documentID, apperr.ErrNotFound)
	}
	prev := s.byDoc[docID][i].Clone()
	s.removeLocked(id)
	s.deleting[id] = prev.Clone()
	s.touched[id] = s.nextSeqLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(Event{Kind: EventDeleted, Highlight: prev.Clone()})

	return s.persist(ctx, "delete", prev, func(ctx context.Context) error {
		return s.gw.DeleteHighlight(ctx, id)
	}, func(err error) {
		if _, ok := s.deleting[id]; !ok {
			// Forgotten while the call ran.
			return
		}
		delete(s.deleting, id)
		if err == nil {
			if s.fetching == 0 {
				delete(s.touched, id)
			}
			return
		}
		if _, exists := s.docOf[id]; !exists {
			s.insertLocked(prev.Clone())
		}
	}), nil
}

// FetchForDocument replaces the cached list of documentID with the gateway's.
// Local changes the gateway list may not reflect win over it: highlights
// whose create was in flight when the fetch began or is still in flight,
// highlights with unconfirmed updates, and highlights created, updated or
// deleted after the fetch began. On failure the cache is left as it was.
func (s *Store) FetchForDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	begin := s.seq
	wasInflight := make(map[string]struct{}, len(s.inflight))
	for id := range s.inflight {
		wasInflight[id] = struct{}{}
	}
	s.fetching++
	s.mu.Unlock()

	list, err := s.gw.ListHighlights(ctx, documentID)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.endFetchLocked()

	if err != nil {
		return fmt.Errorf("highlights: fetch %s: %w", documentID, err)
	}

	keep := make(map[string]models.Highlight)
	for _, h := range s.byDoc[documentID] {
		_, was := wasInflight[h.ID]
		_, is := s.inflight[h.ID]
		_, editing := s.edits[h.ID]
		if was || is || editing || s.touched[h.ID] > begin {
			keep[h.ID] = h
		}
		delete(s.docOf, h.ID)
	}
	delete(s.byDoc, documentID)

	for _, h := range list {
		if h.DocumentID != documentID {
			continue
		}
		if _, ok := keep[h.ID]; ok {
			continue
		}
		if _, ok := s.deleting[h.ID]; ok {
			continue
		}
		if s.touched[h.ID] > begin {
			// Deleted here after the gateway listed it.
			continue
		}
		s.insertLocked(h.Clone())
	}
	for _, h := range keep {
		s.insertLocked(h)
	}
	return nil
}

// endFetchLocked drops the mutation marks of deleted highlights once no
// fetch can still need them.
func (s *Store) endFetchLocked() {
	s.fetching--
	if s.fetching > 0 {
		return
	}
	for id := range s.touched {
		_, cached := s.docOf[id]
		_, pending := s.deleting[id]
		if !cached && !pending {
			delete(s.touched, id)
		}
	}
}

// ForDocument returns a copy of the cached highlights of documentID,
// ordered by start offset.
func (s *Store) ForDocument(documentID string) []models.Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byDoc[documentID]
	out := make([]models.Highlight, len(list))
	for i, h := range list {
		out[i] = h.Clone()
	}
	return out
}

// Get returns the cached highlight with the given id.
func (s *Store) Get(id string) (models.Highlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, i, ok := s.findLocked(id)
	if !ok {
		return models.Highlight{}, false
	}
	return s.byDoc[docID][i].Clone(), true
}

// Forget drops every cached highlight of documentID without touching the gateway.
func (s *Store) Forget(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.byDoc[documentID] {
		delete(s.docOf, h.ID)
		delete(s.inflight, h.ID)
		delete(s.edits, h.ID)
		delete(s.touched, h.ID)
	}
	for id, h := range s.deleting {
		if h.DocumentID == documentID {
			delete(s.deleting, id)
			delete(s.edits, id)
			delete(s.touched, id)
		}
	}
	delete(s.byDoc, documentID)
}

// Close rejects further mutations and waits for in-flight gateway calls.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// persist runs call in the background. settle is invoked under the store
// lock with the call's result; it must undo the optimistic change on error.
// The caller has already done s.wg.Add(1).
func (s *Store) persist(ctx context.Context, op string, h models.Highlight, call func(context.Context) error, settle func(error)) *Pending {
	p := newPending()
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		err := call(ctx)

		s.mu.Lock()
		settle(err)
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("highlights: rolled back",
				slog.String("op", op),
				slog.String("highlight_id", h.ID),
				slog.String("document_id", h.DocumentID),
				slog.String("error", err.Error()))
			s.emit(Event{Kind: EventRolledBack, Op: op, Highlight: h.Clone(), Err: err})
			err = fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, h.ID, err)
		}
		p.resolve(err)
	}()
	return p
}

func (s *Store) emit(ev Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// overlapLocked returns a cached or deleting highlight of the same document
// that overlaps h.
func (s *Store) overlapLocked(h models.Highlight) (models.Highlight, bool) {
	for _, o := range s.byDoc[h.DocumentID] {
		if o.Overlaps(h) {
			return o, true
		}
	}
	for _, o := range s.deleting {
		if o.DocumentID == h.DocumentID && o.Overlaps(h) {
			return o, true
		}
	}
	return models.Highlight{}, false
}

func (s *Store) findLocked(id string) (string, int, bool) {
	docID, ok := s.docOf[id]
	if !ok {
		return "", 0, false
	}
	i := slices.IndexFunc(s.byDoc[docID], func(h models.Highlight) bool { return h.ID == id })
	if i < 0 {
		return "", 0, false
	}
	return docID, i, true
}

func (s *Store) insertLocked(h models.Highlight) {
	list := s.byDoc[h.DocumentID]
	i := sort.Search(len(list), func(i int) bool { return list[i].StartOffset > h.StartOffset })
	s.byDoc[h.DocumentID] = slices.Insert(list, i, h)
	s.docOf[h.ID] = h.DocumentID
}

func (s *Store) removeLocked(id string) {
	docID, i, ok := s.findLocked(id)
	if !ok {
		return
	}
	list := slices.Delete(s.byDoc[docID], i, i+1)
	if len(list) == 0 {
		delete(s.byDoc, docID)
	} else {
		s.byDoc[docID] = list
	}
	delete(s.docOf, id)
}
