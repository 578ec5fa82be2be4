package models

import "time"

// Document is an archived feed article. Its ID is the library-relative path.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	FeedURL     string    `json:"feed,omitempty"`
	Link        string    `json:"link,omitempty"`
	Content     []byte    `json:"-"`
	Checksum    string    `json:"checksum"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
