// Package storage defines the article library file-system abstraction.
package storage

import (
	"path/filepath"
	"strings"

	"github.com/starford/marginalia/internal/models"
)

// Provider is the interface for library file operations.
type Provider interface {
	// List returns metadata for every article file under dir (relative to the library root).
	List(dir string) ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of the file at path (relative to the library root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the library root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to the library root).
	Delete(path string) error
}

// IsDocument reports whether name has an article file extension.
func IsDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}
