// Package models defines the core and staging row types shared by
// every Kurt pipeline stage and persisted via pkg/repository.
package models

import "time"

// SourceType identifies how a Document entered the system.
type SourceType string

const (
	SourceTypeURL  SourceType = "url"
	SourceTypeFile SourceType = "file"
	SourceTypeCMS  SourceType = "cms"
	SourceTypeAPI  SourceType = "api"
)

// Document is the canonical unit of ingested content. SourceURL is
// unique per SourceType; ContentHash is set only once fetch succeeds;
// when IndexedWithHash equals ContentHash, indexing can skip this
// document entirely.
type Document struct {
	DocumentID      string
	SourceURL       *string
	SourceType      SourceType
	Title           *string
	Description     *string
	ContentPath     *string
	ContentHash     *string
	IndexedWithHash *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NeedsIndexing reports whether content has been fetched but not yet
// reflected in the indexed_with_hash marker, i.e. indexing work is
// outstanding for this document.
func (d *Document) NeedsIndexing() bool {
	if d.ContentHash == nil {
		return false
	}
	if d.IndexedWithHash == nil {
		return true
	}
	return *d.IndexedWithHash != *d.ContentHash
}
