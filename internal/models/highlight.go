// Package models defines the domain types for Marginalia.
package models

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Color is one entry of the fixed highlight palette.
type Color string

// Highlight palette.
const (
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
)

// Palette lists every accepted highlight color in display order.
var Palette = []Color{ColorYellow, ColorGreen, ColorBlue, ColorPink, ColorPurple}

// Valid reports whether c belongs to the palette.
func (c Color) Valid() bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// Highlight is a persisted, colored range of a document's plain text.
// StartOffset and EndOffset form the half-open rune range [start, end).
type Highlight struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Text        string    `json:"text"`
	Note        *string   `json:"note,omitempty"`
	Color       Color     `json:"color"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	CreatedAt   time.Time `json:"created_at"`
}

// Overlaps reports whether h and o share at least one character.
func (h Highlight) Overlaps(o Highlight) bool {
	return h.StartOffset < o.EndOffset && o.StartOffset < h.EndOffset
}

// Clone returns a copy of h that shares no pointers with it.
func (h Highlight) Clone() Highlight {
	if h.Note != nil {
		n := *h.Note
		h.Note = &n
	}
	return h
}

// Validate checks the highlight invariants: an id and document, a palette
// color and a non-empty range starting at or after zero.
func (h Highlight) Validate() error {
	colors := make([]interface{}, len(Palette))
	for i, c := range Palette {
		colors[i] = c
	}
	return validation.ValidateStruct(&h,
		validation.Field(&h.ID, validation.Required),
		validation.Field(&h.DocumentID, validation.Required),
		validation.Field(&h.Color, validation.Required, validation.In(colors...)),
		validation.Field(&h.StartOffset, validation.Min(0)),
		validation.Field(&h.EndOffset, validation.By(func(interface{}) error {
			if h.EndOffset <= h.StartOffset {
				return errors.New("must be greater than start_offset")
			}
			return nil
		})),
	)
}

// HighlightPatch is a partial update of a highlight's note and color.
// A non-nil empty Note clears the note.
type HighlightPatch struct {
	Note  *string `json:"note,omitempty"`
	Color *Color  `json:"color,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p HighlightPatch) Empty() bool {
	return p.Note == nil && p.Color == nil
}

// Apply writes the patch onto h.
func (p HighlightPatch) Apply(h *Highlight) {
	if p.Note != nil {
		if *p.Note == "" {
			h.Note = nil
		} else {
			n := *p.Note
			h.Note = &n
		}
	}
	if p.Color != nil {
		h.Color = *p.Color
	}
}
