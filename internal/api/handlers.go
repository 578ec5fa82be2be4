package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/docservice"
	"github.com/starford/marginalia/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the document path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. feeds%2Fpost.html).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List archived articles with optional pagination and filtering
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			feed	query		string	false	"Filter by feed URL"
//	@Param			sort	query		string	false	"Sort field"	Enums(updated_at, published_at, title, path)
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListDocuments(r.Context(), limit, offset, q.Get("feed"), q.Get("sort"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	if items == nil {
		items = []models.Document{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: total})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a single article by path
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), path)
	if err != nil {
		writeError(w, "get document", err, slog.String("path", path))
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Archive a new article
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Article to archive"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		doc *DocumentDetail
		err error
	)
	if req.Content != "" {
		doc, err = h.svc.CreateDocument(r.Context(), req.Path, []byte(req.Content))
	} else {
		doc, err = h.svc.ArchiveArticle(r.Context(), req.Path, req.Article())
	}
	if err != nil {
		writeError(w, "create document", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// UpdateDocument handles PUT /api/documents/*.
//
//	@Summary		Replace an article with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string					true	"Document path"
//	@Param			If-Match	header	string					false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdateDocumentRequest	true	"Updated content"
//	@Success		200		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateDocumentRequest
	if !decode(w, r, &req) {
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	doc, err := h.svc.UpdateDocument(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "update document", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/*.
//
//	@Summary		Delete an article and its highlights
//	@Tags			documents
//	@Param			path	path	string	true	"Document path"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), path); err != nil {
		writeError(w, "delete document", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderDocument handles GET /api/render/*.
//
//	@Summary		Render an article with its highlights applied
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	RenderResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render/{path} [get]
func (h *Handler) RenderDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	out, err := h.svc.RenderDocument(r.Context(), path)
	if err != nil {
		writeError(w, "render document", err, slog.String("path", path))
		return
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out.HTML))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListHighlights handles GET /api/highlights?document=.
//
//	@Summary		List the highlights of an article
//	@Tags			highlights
//	@Produce		json
//	@Param			document	query		string	true	"Document path"
//	@Success		200			{object}	HighlightListResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights [get]
func (h *Handler) ListHighlights(w http.ResponseWriter, r *http.Request) {
	doc := r.URL.Query().Get("document")
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'document' is required"))
		return
	}
	items, err := h.svc.Highlights(r.Context(), doc)
	if err != nil {
		writeError(w, "list highlights", err, slog.String("document", doc))
		return
	}
	writeJSON(w, http.StatusOK, HighlightListResponse{Highlights: items})
}

// CreateHighlight handles POST /api/highlights.
//
//	@Summary		Highlight a range of an article
//	@Tags			highlights
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateHighlightRequest	true	"Offsets or selection"
//	@Success		201		{object}	models.Highlight
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	PartialHighlightResponse
//	@Security		BearerAuth
//	@Router			/highlights [post]
func (h *Handler) CreateHighlight(w http.ResponseWriter, r *http.Request) {
	var req CreateHighlightRequest
	if !decode(w, r, &req) {
		return
	}

	var start, end int
	if req.Selection != nil {
		rng, err := h.svc.CaptureSelection(r.Context(), req.Document, *req.Selection)
		if err != nil {
			writeError(w, "capture selection", err, slog.String("document", req.Document))
			return
		}
		start, end = rng.Start, rng.End
	} else {
		start, end = *req.Start, *req.End
	}

	hl, err := h.svc.CreateHighlight(r.Context(), req.Document, start, end, req.Color, req.Note)
	if errors.Is(err, docservice.ErrNoteNotSaved) {
		slog.Warn("create highlight: note not persisted",
			slog.String("document", req.Document),
			slog.String("highlight_id", hl.ID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, PartialHighlightResponse{
			Error:     "highlight created without its note",
			Highlight: hl,
		})
		return
	}
	if err != nil {
		writeError(w, "create highlight", err, slog.String("document", req.Document))
		return
	}
	writeJSON(w, http.StatusCreated, hl)
}

// UpdateHighlight handles PATCH /api/highlights/{id}.
//
//	@Summary		Change the note or color of a highlight
//	@Tags			highlights
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Highlight id"
//	@Param			body	body		UpdateHighlightRequest	true	"Patch"
//	@Success		200		{object}	models.Highlight
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights/{id} [patch]
func (h *Handler) UpdateHighlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateHighlightRequest
	if !decode(w, r, &req) {
		return
	}
	hl, err := h.svc.UpdateHighlight(r.Context(), id, req.Patch())
	if err != nil {
		writeError(w, "update highlight", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, hl)
}

// DeleteHighlight handles DELETE /api/highlights/{id}.
//
//	@Summary		Delete a highlight
//	@Tags			highlights
//	@Param			id	path	string	true	"Highlight id"
//	@Success		204	"Highlight deleted"
//	@Failure		404	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights/{id} [delete]
func (h *Handler) DeleteHighlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteHighlight(r.Context(), id); err != nil {
		writeError(w, "delete highlight", err, slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CaptureSelection handles POST /api/selection.
//
//	@Summary		Convert a node-path selection into text offsets
//	@Tags			highlights
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SelectionRequest	true	"Selection"
//	@Success		200		{object}	annotate.Range
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/selection [post]
func (h *Handler) CaptureSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decode(w, r, &req) {
		return
	}
	rng, err := h.svc.CaptureSelection(r.Context(), req.Document, req.PathSelection)
	if err != nil {
		writeError(w, "capture selection", err, slog.String("document", req.Document))
		return
	}
	writeJSON(w, http.StatusOK, rng)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across archived articles
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult(res)
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}

