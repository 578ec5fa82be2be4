package mcpserver

import (
	"strings"

	"github.com/starford/marginalia/internal/models"
)

// HighlightGuide describes how offsets, colors and markers work for LLM
// consumers of the highlight tools.
var HighlightGuide = `# Marginalia Highlight Guide

Archived articles are sanitized HTML. Highlights address the article's
**plain text**: every text node concatenated in document order, with no
separators added between elements. Offsets count Unicode code points.

## Ranges

- A highlight covers the half-open range ` + "`[start, end)`" + ` with ` + "`0 <= start < end <= len(text)`" + `.
- Use ` + "`read_document`" + ` with ` + "`format: text`" + ` to see the exact plain text.
- Instead of offsets you may pass ` + "`quote`" + `: the first occurrence of that exact
  text is highlighted.
- Highlights of one article never overlap. Creating an overlapping range fails.

## Colors

` + paletteList() + `

## Notes

- A note is optional free text attached to a highlight.
- Updating with an empty note clears it.

## Rendering

` + "`render_document`" + ` wraps each highlight in
` + "`<mark data-highlight-id=\"...\" data-color=\"...\">`" + `. A range that crosses
element boundaries produces one marker per text segment, all sharing the id.
`

func paletteList() string {
	var b strings.Builder
	for _, c := range models.Palette {
		b.WriteString("- `" + string(c) + "`\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
