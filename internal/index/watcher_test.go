package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/sanitize"
	"github.com/starford/marginalia/internal/storage"
)

// indexerTestEnv sets up a library dir, storage, DB and Indexer.
func indexerTestEnv(t *testing.T) (string, *DB, *Indexer) {
	t.Helper()
	libDir := t.TempDir()
	store, err := storage.NewFS(libDir)
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return libDir, db, NewIndexer(db, store, sanitize.New(), logger)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func writeArticle(t *testing.T, dir, rel, title string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	data := "---\ntitle: " + title + "\n---\n<p>" + title + " body</p>\n"
	if err := os.WriteFile(abs, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go ix.Watch(ctx, libDir, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	writeArticle(t, libDir, "new.html", "New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("new.html")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:new.html" {
				return true
			}
		}
		return false
	}, "expected created:new.html callback")
}

func TestWatcher_IgnoresNonArticles(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ix.Watch(ctx, libDir, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(libDir, "notes.txt"), []byte("plain"), 0o644)
	writeArticle(t, libDir, "real.html", "Real")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("real.html")
		return cs != ""
	}, "article not indexed")
	if cs, _ := db.GetChecksum("notes.txt"); cs != "" {
		t.Error("non-article file was indexed")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ix.Watch(ctx, libDir, nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(libDir, "feed")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	writeArticle(t, libDir, "feed/deep.html", "Deep")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("feed/deep.html")
		return cs != ""
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	writeArticle(t, libDir, "del.html", "Delete Me")
	if err := ix.Sync(); err != nil {
		t.Fatal(err)
	}

	cs, _ := db.GetChecksum("del.html")
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ix.Watch(ctx, libDir, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(libDir, "del.html"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("del.html")
		return cs == ""
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	writeArticle(t, libDir, "old.html", "Rename")
	if err := ix.Sync(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ix.Watch(ctx, libDir, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(libDir, "old.html"), filepath.Join(libDir, "renamed.html"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("old.html")
		newCS, _ := db.GetChecksum("renamed.html")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func TestWatcher_WriteBurstIndexesOnce(t *testing.T) {
	libDir, db, ix := indexerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go ix.Watch(ctx, libDir, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	for _, title := range []string{"One", "Two", "Three"} {
		writeArticle(t, libDir, "burst.html", title)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		d, err := db.GetDocument("burst.html")
		return err == nil && d.Title == "Three"
	}, "burst not indexed with final content")

	time.Sleep(2 * settleDelay)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "created:burst.html" {
		t.Errorf("events = %v, want a single created:burst.html", events)
	}
}

func TestWatcher_UnchangedContentIsQuiet(t *testing.T) {
	libDir, _, ix := indexerTestEnv(t)

	writeArticle(t, libDir, "same.html", "Same")
	if err := ix.Sync(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go ix.Watch(ctx, libDir, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	writeArticle(t, libDir, "same.html", "Same")
	time.Sleep(4 * settleDelay)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 0 {
		t.Errorf("rewrite with identical bytes produced events: %v", events)
	}
}
