package models

import "time"

// LandingDiscoveryRow records that a document was discovered by a
// particular method (sitemap, crawl, folder scan, CMS listing) during
// a map workflow.
type LandingDiscoveryRow struct {
	ID         int64
	WorkflowID string
	DocumentID string
	Method     string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FetchStatus is the outcome recorded for one document by the fetch
// pipeline.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "SUCCESS"
	FetchError   FetchStatus = "ERROR"
	FetchSkip    FetchStatus = "skip"
)

// LandingFetchRow is the durable fetch outcome for one document
// within one workflow: status, the path it was written to, its
// content hash, and the engine that produced it.
type LandingFetchRow struct {
	ID            int64
	WorkflowID    string
	DocumentID    string
	Status        FetchStatus
	SkipReason    *string
	ContentLength *int
	ContentHash   *string
	ContentPath   *string
	Engine        *string
	Embedding     []float32
	ErrorMessage  *string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SectionEntityMention is one entity reference local to a section's
// extraction output, indexed positionally so claims can reference it
// via EntityIndices before entity resolution assigns stable ids.
type SectionEntityMention struct {
	Name       string  `json:"name"`
	EntityType string  `json:"entity_type"`
	Quote      string  `json:"quote,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SectionRelationship is a local, pre-resolution relationship between
// two entity mentions within the same section.
type SectionRelationship struct {
	SourceIndex int    `json:"source_index"`
	TargetIndex int    `json:"target_index"`
	Kind        string `json:"kind"`
}

// SectionClaim is one claim as extracted from a section, before
// clustering or resolution. EntityIndices index into the section's
// own Entities list.
type SectionClaim struct {
	Statement     string  `json:"statement"`
	ClaimType     string  `json:"claim_type"`
	Confidence    float64 `json:"confidence"`
	SourceQuote   string  `json:"source_quote,omitempty"`
	EntityIndices []int   `json:"entity_indices"`
}

// SectionExtractionRow is one row of staging.section_extractions: the
// LLM's structured output for a single document section.
type SectionExtractionRow struct {
	ID            int64
	WorkflowID    string
	DocumentID    string
	SectionID     string
	SectionIndex  int
	Header        *string
	Content       string
	Embedding     []float32
	Entities      []SectionEntityMention
	Relationships []SectionRelationship
	Claims        []SectionClaim
	ContentType   *string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntityResolutionRow maps a locally-mentioned entity name to the
// stable entity id it resolved to within one workflow.
type EntityResolutionRow struct {
	ID               int64
	WorkflowID       string
	EntityName       string
	ResolvedEntityID string
	CreatedAt        time.Time
}
