package annotate

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// tree parses markup as a body fragment under an <article> root.
func tree(t *testing.T, markup string) *html.Node {
	t.Helper()
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		t.Fatalf("ParseFragment: %v", err)
	}
	root := &html.Node{Type: html.ElementNode, Data: "article", DataAtom: atom.Article}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root
}

func textRuns(root *html.Node) []*html.Node {
	var out []*html.Node
	walkText(root, func(n *html.Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

func TestProjection(t *testing.T) {
	root := tree(t, "<p>The <b>quick</b> brown</p><p>fox</p>")
	if got := Projection(root); got != "The quick brownfox" {
		t.Errorf("projection = %q", got)
	}
}

func TestOffsetOf(t *testing.T) {
	root := tree(t, "<p>The <b>quick</b> brown</p>")
	runs := textRuns(root)
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	tests := []struct {
		run   int
		local int
		want  int
	}{
		{0, 0, 0},
		{0, 4, 4},
		{1, 0, 4},
		{1, 5, 9},
		{2, 1, 10},
	}
	for _, tt := range tests {
		got, err := OffsetOf(root, runs[tt.run], tt.local)
		if err != nil {
			t.Fatalf("OffsetOf(run %d, %d): %v", tt.run, tt.local, err)
		}
		if got != tt.want {
			t.Errorf("OffsetOf(run %d, %d) = %d, want %d", tt.run, tt.local, got, tt.want)
		}
	}
}

func TestOffsetOf_Errors(t *testing.T) {
	root := tree(t, "<p>abc</p>")
	other := tree(t, "<p>xyz</p>")
	run := textRuns(root)[0]

	if _, err := OffsetOf(root, textRuns(other)[0], 0); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("foreign run: err = %v, want ErrRunNotFound", err)
	}
	if _, err := OffsetOf(root, root.FirstChild, 0); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("element: err = %v, want ErrRunNotFound", err)
	}
	if _, err := OffsetOf(root, run, 4); !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("past end: err = %v, want ErrInvalidOffset", err)
	}
}

func TestOffsetOf_CountsRunes(t *testing.T) {
	root := tree(t, "<p>héllo <i>wörld</i></p>")
	runs := textRuns(root)
	got, err := OffsetOf(root, runs[1], 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("offset = %d, want 8", got)
	}
}

func TestRunsTouchedBy_ConcatenationMatchesProjection(t *testing.T) {
	root := tree(t, `<h1>Título</h1><p>The <b>quick</b> <a href="#">brown</a> fox</p><ul><li>one</li><li></li><li>three</li></ul>`)
	proj := []rune(Projection(root))
	for start := 0; start < len(proj); start++ {
		for end := start + 1; end <= len(proj); end++ {
			var sb strings.Builder
			for _, s := range RunsTouchedBy(root, start, end) {
				sb.WriteString(s.Text())
			}
			if want := string(proj[start:end]); sb.String() != want {
				t.Fatalf("[%d,%d): got %q, want %q", start, end, sb.String(), want)
			}
		}
	}
}

func TestRunsTouchedBy_Boundaries(t *testing.T) {
	root := tree(t, "<p>abc<b>def</b>ghi</p>")

	got := RunsTouchedBy(root, 3, 6)
	if len(got) != 1 || got[0].Text() != "def" || got[0].Start != 0 || got[0].End != 3 {
		t.Errorf("exact run: got %+v", got)
	}

	got = RunsTouchedBy(root, 2, 7)
	if len(got) != 3 {
		t.Fatalf("spanning: got %d slices, want 3", len(got))
	}
	if got[0].Text() != "c" || got[1].Text() != "def" || got[2].Text() != "g" {
		t.Errorf("spanning texts = %q %q %q", got[0].Text(), got[1].Text(), got[2].Text())
	}

	if got := RunsTouchedBy(root, 4, 4); len(got) != 0 {
		t.Errorf("empty range: got %d slices", len(got))
	}
	if got := RunsTouchedBy(root, 5, 2); len(got) != 0 {
		t.Errorf("inverted range: got %d slices", len(got))
	}
	if got := RunsTouchedBy(root, 9, 20); len(got) != 0 {
		t.Errorf("out of bounds: got %d slices", len(got))
	}
}

func TestRunsTouchedBy_SkipsEmptyRuns(t *testing.T) {
	root := tree(t, "<p>ab</p>")
	p := root.FirstChild
	p.InsertBefore(&html.Node{Type: html.TextNode, Data: ""}, p.FirstChild)
	p.AppendChild(&html.Node{Type: html.TextNode, Data: ""})

	got := RunsTouchedBy(root, 0, 2)
	if len(got) != 1 || got[0].Text() != "ab" {
		t.Errorf("got %+v, want the single non-empty run", got)
	}
}

func TestLocateAndPathOf(t *testing.T) {
	root := tree(t, "<p>The <b>quick</b> brown</p>")
	quick := textRuns(root)[1]

	path, err := PathOf(root, quick)
	if err != nil {
		t.Fatalf("PathOf: %v", err)
	}
	if len(path) != 3 || path[0] != 0 || path[1] != 1 || path[2] != 0 {
		t.Errorf("path = %v, want [0 1 0]", path)
	}
	n, err := Locate(root, path)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if n != quick {
		t.Errorf("Locate returned %q, want the quick run", n.Data)
	}

	if _, err := Locate(root, []int{0, 9}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("bad path: err = %v", err)
	}
	if _, err := PathOf(root, tree(t, "<p>x</p>")); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("foreign node: err = %v", err)
	}
}
