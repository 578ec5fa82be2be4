package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/storage"
)

// Document change kinds reported to an EventCallback.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of KindCreated, KindUpdated, KindDeleted.
type EventCallback func(kind string, path string)

// settleDelay is how long a path must stay quiet before it is reindexed.
const settleDelay = 150 * time.Millisecond

// Watch starts an fsnotify watcher on the library root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each index mutation.
//
// Events are collected per path and applied once the library has been quiet
// for settleDelay, so a burst of writes to one article reindexes it once.
// Directory creation and renames trigger a full reconcile, which picks up
// moved trees and drops entries whose files are gone.
func (ix *Indexer) Watch(ctx context.Context, root string, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	ix.logger.Info("watcher: started", slog.String("root", root))

	dirty := make(map[string]struct{})
	needReconcile := false
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			for rel := range dirty {
				ix.apply(rel, cb)
			}
			clear(dirty)
			if needReconcile {
				needReconcile = false
				if err := ix.reconcile(cb); err != nil {
					ix.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						ix.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					needReconcile = true
					settle.Reset(settleDelay)
					continue
				}
			}
			// fsnotify reports a rename on the old name only; a directory
			// moved in or out of the library produces no per-file events.
			if ev.Has(fsnotify.Rename) && !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				needReconcile = true
				settle.Reset(settleDelay)
			}

			if rel, ok := documentPath(root, ev.Name); ok {
				dirty[rel] = struct{}{}
				settle.Reset(settleDelay)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// apply brings one article's index entry in line with the file on disk.
func (ix *Indexer) apply(rel string, cb EventCallback) {
	prev, err := ix.db.GetChecksum(rel)
	if err != nil {
		ix.logger.Warn("watcher: checksum lookup failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	data, err := ix.store.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		if prev == "" {
			return
		}
		if err := ix.db.DeleteDocument(rel); err != nil {
			ix.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		ix.logger.Debug("watcher: deleted", slog.String("path", rel))
		if cb != nil {
			cb(KindDeleted, rel)
		}
		return
	}
	if err != nil {
		ix.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	if prev == checksum.Sum(data) {
		return
	}
	if err := ix.IndexFile(rel, data); err != nil {
		ix.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := KindUpdated
	if prev == "" {
		kind = KindCreated
	}
	ix.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	if cb != nil {
		cb(kind, rel)
	}
}

// documentPath returns the slash-separated library path of an article file,
// or false for anything the library does not index (other extensions,
// dot-files such as in-flight atomic writes).
func documentPath(root, abs string) (string, bool) {
	if !storage.IsDocument(abs) || strings.HasPrefix(filepath.Base(abs), ".") {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
