package annotate

import (
	"strings"

	"golang.org/x/net/html"
)

// Selection is a live selection expressed as two text-run anchors.
type Selection struct {
	AnchorRun   *html.Node
	AnchorIndex int
	FocusRun    *html.Node
	FocusIndex  int
}

// Range is a captured selection in absolute character offsets.
type Range struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Capture converts sel into absolute offsets relative to root.
// It reports false when the selection lies outside root, cannot be resolved,
// or covers only whitespace. A backwards selection is normalized.
func Capture(root *html.Node, sel Selection) (Range, bool) {
	if sel.AnchorRun == nil || sel.FocusRun == nil {
		return Range{}, false
	}
	if !contains(root, sel.AnchorRun) || !contains(root, sel.FocusRun) {
		return Range{}, false
	}
	start, err := OffsetOf(root, sel.AnchorRun, sel.AnchorIndex)
	if err != nil {
		return Range{}, false
	}
	focus, err := OffsetOf(root, sel.FocusRun, sel.FocusIndex)
	if err != nil {
		return Range{}, false
	}
	if focus < start {
		start, focus = focus, start
	}

	var sb strings.Builder
	for _, s := range RunsTouchedBy(root, start, focus) {
		sb.WriteString(s.Text())
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return Range{}, false
	}
	return Range{Start: start, End: start + runeLen(text), Text: text}, true
}

// PathSelection is a Selection whose anchors are child-index paths from the
// document root. Remote callers use it in place of node pointers.
type PathSelection struct {
	AnchorPath  []int `json:"anchor_path"`
	AnchorIndex int   `json:"anchor_index"`
	FocusPath   []int `json:"focus_path"`
	FocusIndex  int   `json:"focus_index"`
}

// CapturePaths resolves both paths under root and captures the selection.
func CapturePaths(root *html.Node, sel PathSelection) (Range, bool) {
	anchor, err := Locate(root, sel.AnchorPath)
	if err != nil {
		return Range{}, false
	}
	focus, err := Locate(root, sel.FocusPath)
	if err != nil {
		return Range{}, false
	}
	return Capture(root, Selection{
		AnchorRun:   anchor,
		AnchorIndex: sel.AnchorIndex,
		FocusRun:    focus,
		FocusIndex:  sel.FocusIndex,
	})
}
