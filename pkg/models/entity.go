package models

import (
	"strings"
	"time"
)

// Entity is a canonicalized named concept extracted from documents
// ("PostgreSQL", "Guido van Rossum"). (Name, EntityType) is unique
// after canonicalization; Version backs the optimistic-concurrency
// retry used when two workflows resolve the same entity concurrently.
type Entity struct {
	EntityID    string
	Name        string
	EntityType  string
	Description *string
	Aliases     []string
	Embedding   []float32
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasAlias reports whether name matches the entity's canonical name
// or any of its aliases, case-insensitively.
func (e *Entity) HasAlias(name string) bool {
	if strings.EqualFold(e.Name, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// DocumentEntity links a Document to an Entity with evidence
// metadata. Nothing in this module deletes these rows when their
// document is re-indexed; re-indexing clears only the document's
// claims from other workflows (ClaimRepository.DeleteForDocument).
type DocumentEntity struct {
	DocumentID  string
	EntityID    string
	WorkflowID  string
	Quote       *string
	StartOffset *int
	EndOffset   *int
	Confidence  float64
	CreatedAt   time.Time
}
