// Package annotate maps plain-text character offsets onto HTML content trees
// and renders stored highlights back into them as marker elements.
//
// Offsets are counted in runes against the projection of a tree: the pre-order
// concatenation of every text node, ignoring element boundaries.
package annotate

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	ErrRunNotFound   = errors.New("annotate: text run not under root")
	ErrInvalidOffset = errors.New("annotate: offset outside text run")
	ErrInvalidPath   = errors.New("annotate: invalid node path")
	ErrAlreadyMarked = errors.New("annotate: text run already inside a marker")
	ErrUnwrappable   = errors.New("annotate: text run cannot hold a marker")
)

// RunSlice is the part of one text run covered by a character range,
// in run-local rune coordinates.
type RunSlice struct {
	Run   *html.Node
	Start int
	End   int
}

// Text returns the covered substring of the run.
func (s RunSlice) Text() string {
	return runeSlice(s.Run.Data, s.Start, s.End)
}

// Projection returns the plain text of root.
func Projection(root *html.Node) string {
	var sb strings.Builder
	walkText(root, func(n *html.Node) bool {
		sb.WriteString(n.Data)
		return true
	})
	return sb.String()
}

// OffsetOf returns the absolute offset of position localIndex inside run,
// measured against the projection of root.
func OffsetOf(root, run *html.Node, localIndex int) (int, error) {
	if run == nil || run.Type != html.TextNode {
		return 0, ErrRunNotFound
	}
	if localIndex < 0 || localIndex > runeLen(run.Data) {
		return 0, ErrInvalidOffset
	}
	offset := 0
	found := false
	walkText(root, func(n *html.Node) bool {
		if n == run {
			found = true
			return false
		}
		offset += runeLen(n.Data)
		return true
	})
	if !found {
		return 0, ErrRunNotFound
	}
	return offset + localIndex, nil
}

// RunsTouchedBy returns, in document order, every text run intersecting the
// half-open range [start, end) together with the clipped local sub-range.
// An empty or inverted range yields no runs.
func RunsTouchedBy(root *html.Node, start, end int) []RunSlice {
	if start >= end {
		return nil
	}
	var out []RunSlice
	offset := 0
	walkText(root, func(n *html.Node) bool {
		l := runeLen(n.Data)
		runStart, runEnd := offset, offset+l
		offset = runEnd
		if l == 0 || runEnd <= start {
			return true
		}
		if runStart >= end {
			return false
		}
		out = append(out, RunSlice{
			Run:   n,
			Start: max(start, runStart) - runStart,
			End:   min(end, runEnd) - runStart,
		})
		return true
	})
	return out
}

// Locate resolves a child-index path starting at root.
// An empty path resolves to root itself.
func Locate(root *html.Node, path []int) (*html.Node, error) {
	n := root
	for _, idx := range path {
		if idx < 0 {
			return nil, ErrInvalidPath
		}
		c := n.FirstChild
		for i := 0; c != nil && i < idx; i++ {
			c = c.NextSibling
		}
		if c == nil {
			return nil, ErrInvalidPath
		}
		n = c
	}
	return n, nil
}

// PathOf is the inverse of Locate.
func PathOf(root, node *html.Node) ([]int, error) {
	var rev []int
	for n := node; n != root; n = n.Parent {
		if n == nil || n.Parent == nil {
			return nil, ErrRunNotFound
		}
		idx := 0
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			idx++
		}
		rev = append(rev, idx)
	}
	path := make([]int, len(rev))
	for i, idx := range rev {
		path[len(rev)-1-i] = idx
	}
	return path, nil
}

// walkText visits every text node under root in pre-order until fn returns
// false. It reports whether the walk ran to completion.
func walkText(root *html.Node, fn func(*html.Node) bool) bool {
	if root.Type == html.TextNode {
		return fn(root)
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

func contains(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// byteIndex converts a rune index into a byte index of s, clamped to len(s).
func byteIndex(s string, runeIdx int) int {
	if runeIdx <= 0 {
		return 0
	}
	i := 0
	for pos := range s {
		if i == runeIdx {
			return pos
		}
		i++
	}
	return len(s)
}

func runeSlice(s string, start, end int) string {
	return s[byteIndex(s, start):byteIndex(s, end)]
}
