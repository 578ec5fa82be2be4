package annotate

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/marginalia/internal/models"
)

// Marker element attributes read by the interactive layer.
const (
	AttrHighlightID = "data-highlight-id"
	AttrColor       = "data-color"
)

// Marker describes one rendered marker element.
type Marker struct {
	HighlightID string       `json:"highlight_id"`
	Color       models.Color `json:"color"`
	Text        string       `json:"text"`
	Node        *html.Node   `json:"-"`
}

// RenderReport counts the sub-ranges wrapped and skipped by one Render call.
type RenderReport struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Renderer wraps stored highlights into content trees.
type Renderer struct {
	logger *slog.Logger
}

// NewRenderer creates a Renderer. A nil logger falls back to slog.Default().
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render returns a copy of root with every highlight wrapped in a marker.
// root is left untouched and any markers it already carries are dropped
// first, so rendering a rendered tree gives the same result.
//
// Highlights are applied from the highest start offset to the lowest: splitting
// a run only touches text at or after the current start, which keeps the
// offsets of every not-yet-applied highlight valid.
func (r *Renderer) Render(root *html.Node, highlights []models.Highlight) (*html.Node, RenderReport) {
	out := Clone(root)
	Unwrap(out)

	ordered := slices.Clone(highlights)
	slices.SortStableFunc(ordered, func(a, b models.Highlight) int {
		if c := cmp.Compare(b.StartOffset, a.StartOffset); c != 0 {
			return c
		}
		return cmp.Compare(b.EndOffset, a.EndOffset)
	})

	var rep RenderReport
	for _, h := range ordered {
		if h.StartOffset < 0 || h.StartOffset >= h.EndOffset {
			r.logger.Warn("annotate: invalid highlight range",
				slog.String("highlight_id", h.ID),
				slog.Int("start", h.StartOffset),
				slog.Int("end", h.EndOffset))
			rep.Skipped++
			continue
		}
		for _, s := range RunsTouchedBy(out, h.StartOffset, h.EndOffset) {
			if err := wrap(s, h); err != nil {
				r.logger.Warn("annotate: wrap failed",
					slog.String("highlight_id", h.ID),
					slog.Int("local_start", s.Start),
					slog.Int("local_end", s.End),
					slog.String("error", err.Error()))
				rep.Skipped++
				continue
			}
			rep.Applied++
		}
	}
	return out, rep
}

// wrap splits s.Run into before/match/after and moves the match into a marker.
func wrap(s RunSlice, h models.Highlight) error {
	run := s.Run
	parent := run.Parent
	if parent == nil {
		return ErrRunNotFound
	}
	if _, ok := MarkerAt(run); ok {
		return ErrAlreadyMarked
	}
	if parent.Type == html.ElementNode {
		switch parent.DataAtom {
		case atom.Script, atom.Style, atom.Textarea, atom.Title, atom.Xmp, atom.Iframe, atom.Noscript:
			return fmt.Errorf("%w: <%s>", ErrUnwrappable, parent.Data)
		}
	}

	text := run.Data
	b0, b1 := byteIndex(text, s.Start), byteIndex(text, s.End)
	if b0 >= b1 {
		return ErrInvalidOffset
	}
	if b0 > 0 {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[:b0]}, run)
	}
	if b1 < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[b1:]}, run.NextSibling)
	}

	mark := newMarker(h)
	parent.InsertBefore(mark, run)
	parent.RemoveChild(run)
	run.Data = text[b0:b1]
	mark.AppendChild(run)
	return nil
}

func newMarker(h models.Highlight) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "mark",
		DataAtom: atom.Mark,
		Attr: []html.Attribute{
			{Key: AttrHighlightID, Val: h.ID},
			{Key: AttrColor, Val: string(h.Color)},
		},
	}
}

func markerID(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == AttrHighlightID {
			return a.Val, true
		}
	}
	return "", false
}

// MarkerAt returns the marker enclosing n, if any. n itself may be the marker.
func MarkerAt(n *html.Node) (Marker, bool) {
	for ; n != nil; n = n.Parent {
		id, ok := markerID(n)
		if !ok {
			continue
		}
		m := Marker{HighlightID: id, Node: n, Text: Projection(n)}
		for _, a := range n.Attr {
			if a.Key == AttrColor {
				m.Color = models.Color(a.Val)
			}
		}
		return m, true
	}
	return Marker{}, false
}

// Markers lists every marker under root in document order.
func Markers(root *html.Node) []Marker {
	var out []Marker
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if _, ok := markerID(n); ok {
			m, _ := MarkerAt(n)
			out = append(out, m)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Unwrap removes every marker under root in place, splicing the marked text
// back into the parent and merging the text runs the markers had split.
func Unwrap(root *html.Node) {
	merged := false
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		Unwrap(c)
		if _, ok := markerID(c); ok {
			for gc := c.FirstChild; gc != nil; gc = c.FirstChild {
				c.RemoveChild(gc)
				root.InsertBefore(gc, c)
			}
			root.RemoveChild(c)
			merged = true
		}
		c = next
	}
	if merged {
		mergeText(root)
	}
}

func mergeText(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			n.RemoveChild(next)
			continue
		}
		c = next
	}
}

// Clone deep-copies n. The copy has no parent or siblings.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      slices.Clone(n.Attr),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}

// RenderInner serializes the children of root.
func RenderInner(root *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("annotate: render: %w", err)
		}
	}
	return buf.String(), nil
}
