package index

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "marginalia-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUpsert(t *testing.T, db *DB, row DocumentRow, body string) {
	t.Helper()
	if err := db.UpsertDocument(row, body); err != nil {
		t.Fatalf("UpsertDocument(%s): %v", row.Path, err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM highlights`).Scan(&count); err != nil {
		t.Fatalf("highlights table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, DocumentRow{
		Path:     "hello.html",
		Title:    "Hello World",
		Checksum: "abc123",
	}, "This is a hello world article.")

	cs, err := db.GetChecksum("hello.html")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestGetDocument(t *testing.T) {
	db := testDB(t)
	pub := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mustUpsert(t, db, DocumentRow{
		Path:               "feeds/a.html",
		Title:              "A",
		FeedURL:            "https://example.com/feed.xml",
		Link:               "https://example.com/a",
		Checksum:           "1",
		ProjectionChecksum: "p1",
		PublishedAt:        pub,
	}, "body")

	d, err := db.GetDocument("feeds/a.html")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if d.Title != "A" || d.FeedURL != "https://example.com/feed.xml" || d.ProjectionChecksum != "p1" {
		t.Errorf("unexpected row: %+v", d)
	}
	if !d.PublishedAt.Equal(pub) {
		t.Errorf("published = %v, want %v", d.PublishedAt, pub)
	}

	if _, err := db.GetDocument("missing.html"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing document err = %v, want ErrNotFound", err)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, DocumentRow{Path: "up.html", Title: "Old", Checksum: "1"}, "old body")
	mustUpsert(t, db, DocumentRow{Path: "up.html", Title: "New", Checksum: "2"}, "new body")

	d, err := db.GetDocument("up.html")
	if err != nil {
		t.Fatal(err)
	}
	if d.Checksum != "2" || d.Title != "New" {
		t.Errorf("row not updated: %+v", d)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListDocuments(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, DocumentRow{Path: "b.html", Title: "beta", FeedURL: "f1", Checksum: "1"}, "")
	mustUpsert(t, db, DocumentRow{Path: "a.html", Title: "Alpha", FeedURL: "f1", Checksum: "2"}, "")
	mustUpsert(t, db, DocumentRow{Path: "c.html", Title: "gamma", FeedURL: "f2", Checksum: "3"}, "")

	rows, total, err := db.ListDocuments(10, 0, "", "title")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 || len(rows) != 3 {
		t.Fatalf("total=%d len=%d, want 3/3", total, len(rows))
	}
	if rows[0].Path != "a.html" || rows[1].Path != "b.html" || rows[2].Path != "c.html" {
		t.Errorf("title order wrong: %s %s %s", rows[0].Path, rows[1].Path, rows[2].Path)
	}

	rows, total, err = db.ListDocuments(1, 0, "f1", "path")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(rows) != 1 || rows[0].Path != "a.html" {
		t.Errorf("feed filter: total=%d rows=%+v", total, rows)
	}

	if _, _, err := db.ListDocuments(10, 0, "", "checksum; DROP TABLE documents"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("unknown sort err = %v, want ErrInvalid", err)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, DocumentRow{Path: "s.html", Title: "Search Me", Checksum: "1"}, "uniqueword appears here")

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.html" {
		t.Errorf("search results = %+v, want 1 hit for s.html", results)
	}
}

func TestDeleteDocumentCascadesHighlights(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustUpsert(t, db, DocumentRow{Path: "del.html", Checksum: "x"}, "The quick brown fox")
	if err := db.CreateHighlight(ctx, testHighlight("h1", "del.html", 4, 9)); err != nil {
		t.Fatalf("CreateHighlight: %v", err)
	}

	if err := db.DeleteDocument("del.html"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if cs, _ := db.GetChecksum("del.html"); cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
	if _, err := db.GetHighlight(ctx, "h1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("highlight survived document delete: err = %v", err)
	}
}

func testHighlight(id, doc string, start, end int) models.Highlight {
	return models.Highlight{
		ID:          id,
		DocumentID:  doc,
		Text:        "quick",
		Color:       models.ColorYellow,
		StartOffset: start,
		EndOffset:   end,
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
