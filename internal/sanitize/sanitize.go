// Package sanitize turns untrusted article markup into the content trees the
// annotation engine works on.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Sanitizer applies a fixed policy so that the same stored markup always
// yields the same tree, and therefore the same plain-text projection.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New returns a Sanitizer using the bluemonday UGC policy. data-* attributes
// are not allowed, so stored markup can never carry highlight markers.
func New() *Sanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowElements("figure", "figcaption", "mark", "section", "article", "aside")
	p.RequireNoReferrerOnLinks(true)
	return &Sanitizer{policy: p}
}

// Sanitize returns the safe subset of markup.
func (s *Sanitizer) Sanitize(markup string) string {
	return s.policy.Sanitize(markup)
}

// Tree sanitizes markup and parses it under a fresh <article> root.
func (s *Sanitizer) Tree(markup string) (*html.Node, error) {
	return ParseFragment(s.Sanitize(markup))
}

// ParseFragment parses already-safe markup as body content under an
// <article> root element.
func ParseFragment(markup string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("sanitize: parse fragment: %w", err)
	}
	root := &html.Node{Type: html.ElementNode, Data: "article", DataAtom: atom.Article}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}
