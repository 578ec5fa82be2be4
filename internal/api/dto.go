package api

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/annotate"
	"github.com/starford/marginalia/internal/docservice"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

// CreateDocumentRequest is the request body for archiving an article. Either
// content (raw file bytes with optional frontmatter) or body is required.
type CreateDocumentRequest struct {
	Path      string     `json:"path" example:"feeds/example/post.html" validate:"required"`
	Content   string     `json:"content,omitempty" example:"---\ntitle: Post\n---\n<p>Hello</p>"`
	Title     string     `json:"title,omitempty" example:"Post"`
	FeedURL   string     `json:"feed,omitempty" example:"https://example.com/feed.xml"`
	Link      string     `json:"link,omitempty" example:"https://example.com/post"`
	Published *time.Time `json:"published,omitempty"`
	Body      string     `json:"body,omitempty" example:"<p>Hello</p>"`
}

// Validate checks the request.
func (r CreateDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(documentPath)),
		validation.Field(&r.Content, validation.When(r.Body == "", validation.Required.Error("content or body is required"))),
	)
}

// Article converts the structured fields of the request.
func (r CreateDocumentRequest) Article() docservice.Article {
	a := docservice.Article{Title: r.Title, FeedURL: r.FeedURL, Link: r.Link, Body: r.Body}
	if r.Published != nil {
		a.Published = *r.Published
	}
	return a
}

// UpdateDocumentRequest is the request body for replacing an article.
type UpdateDocumentRequest struct {
	Content string `json:"content" example:"<p>Updated</p>" validate:"required"`
}

// Validate checks the request.
func (r UpdateDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
	)
}

// DocumentDetail is the full article response type (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListResponse wraps paginated article listings.
type DocumentListResponse struct {
	Documents []models.Document `json:"documents" validate:"required"`
	Total     int               `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"feeds/example/post.html" validate:"required"`
	Title   string `json:"title" example:"Post" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// RenderResponse is a document rendered with its highlights.
type RenderResponse = docservice.Rendered

// CreateHighlightRequest creates a highlight either from explicit offsets or
// from a path-addressed selection.
type CreateHighlightRequest struct {
	Document  string                  `json:"document" example:"feeds/example/post.html" validate:"required"`
	Start     *int                    `json:"start,omitempty" example:"4"`
	End       *int                    `json:"end,omitempty" example:"9"`
	Selection *annotate.PathSelection `json:"selection,omitempty"`
	Color     models.Color            `json:"color" example:"yellow" validate:"required"`
	Note      *string                 `json:"note,omitempty" example:"worth rereading"`
}

// Validate checks the request.
func (r CreateHighlightRequest) Validate() error {
	offsets := r.Start != nil || r.End != nil
	return validation.ValidateStruct(&r,
		validation.Field(&r.Document, validation.Required),
		validation.Field(&r.Color, validation.Required, validation.In(palette()...)),
		validation.Field(&r.Start, validation.When(r.Selection == nil, validation.NotNil.Error("start/end or selection is required")), validation.Min(0)),
		validation.Field(&r.End, validation.When(r.Selection == nil || offsets, validation.NotNil)),
		validation.Field(&r.Selection, validation.When(offsets, validation.Nil.Error("use either offsets or selection"))),
	)
}

// UpdateHighlightRequest patches a highlight. An empty note clears it.
type UpdateHighlightRequest struct {
	Note  *string       `json:"note,omitempty" example:"revised"`
	Color *models.Color `json:"color,omitempty" example:"green"`
}

// Validate checks the request.
func (r UpdateHighlightRequest) Validate() error {
	if r.Note == nil && r.Color == nil {
		return errors.New("note or color is required")
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Color, validation.When(r.Color != nil, validation.In(palette()...))),
	)
}

// Patch converts the request into a models.HighlightPatch.
func (r UpdateHighlightRequest) Patch() models.HighlightPatch {
	return models.HighlightPatch{Note: r.Note, Color: r.Color}
}

// PartialHighlightResponse is returned with 502 when a highlight was stored
// but its note was not.
type PartialHighlightResponse struct {
	Error     string           `json:"error"`
	Highlight models.Highlight `json:"highlight"`
}

// HighlightListResponse wraps the highlights of one document.
type HighlightListResponse struct {
	Highlights []models.Highlight `json:"highlights" validate:"required"`
}

// SelectionRequest captures a path-addressed selection in a document.
type SelectionRequest struct {
	Document string `json:"document" example:"feeds/example/post.html" validate:"required"`
	annotate.PathSelection
}

// Validate checks the request.
func (r SelectionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Document, validation.Required),
		validation.Field(&r.PathSelection.AnchorPath, validation.NotNil),
		validation.Field(&r.PathSelection.FocusPath, validation.NotNil),
	)
}

func documentPath(value any) error {
	p, _ := value.(string)
	if p != "" && !storage.IsDocument(p) {
		return errors.New("must end in .html or .htm")
	}
	return nil
}

func palette() []any {
	out := make([]any, len(models.Palette))
	for i, c := range models.Palette {
		out[i] = c
	}
	return out
}
