package models

import "time"

// ClaimType classifies the kind of assertion a Claim makes. Invalid
// or unrecognized values collected from an extraction default to
// ClaimTypeDefinition rather than being rejected.
type ClaimType string

const (
	ClaimTypeDefinition   ClaimType = "definition"
	ClaimTypeCapability   ClaimType = "capability"
	ClaimTypeLimitation   ClaimType = "limitation"
	ClaimTypeRelationship ClaimType = "relationship"
	ClaimTypeFact         ClaimType = "fact"
)

// IsValidClaimType reports whether t is one of the recognized kinds.
func IsValidClaimType(t string) bool {
	switch ClaimType(t) {
	case ClaimTypeDefinition, ClaimTypeCapability, ClaimTypeLimitation, ClaimTypeRelationship, ClaimTypeFact:
		return true
	default:
		return false
	}
}

// Claim is an atomic assertion anchored to a document and at least
// one entity. A claim without SubjectEntityID is never persisted
// (see pkg/claimresolution).
type Claim struct {
	ClaimID         string
	ClaimHash       string
	Statement       string
	ClaimType       ClaimType
	Confidence      float64
	SubjectEntityID string
	LinkedEntityIDs []string
	SourceQuote     *string
	DocumentID      string
	SectionID       *string
	WorkflowID      string
	Embedding       []float32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResolutionAction records what claim resolution actually did with a
// claim occurrence.
type ResolutionAction string

const (
	ResolutionCreated      ResolutionAction = "created"
	ResolutionMerged       ResolutionAction = "merged"
	ResolutionDeduplicated ResolutionAction = "deduplicated"
	ResolutionSkipped      ResolutionAction = "skipped"
)

// ClaimGroupRow is one row of staging.claim_groups: a single claim
// occurrence after clustering, before resolution against the core
// claims table.
type ClaimGroupRow struct {
	ID                 int64
	WorkflowID         string
	ClaimHash          string
	DocumentID         string
	SectionID          string
	ClaimType          ClaimType
	Statement          string
	Confidence         float64
	SourceQuote        *string
	ClusterID          int
	ClusterSize        int
	Decision           string
	CanonicalStatement *string
	EntityIndices      []int
	SimilarExisting    []string
	CreatedAt          time.Time
}

// ClaimResolutionRow is one row of staging.claim_resolution: the
// final disposition of a single claim occurrence.
type ClaimResolutionRow struct {
	ID               int64
	WorkflowID       string
	ClaimHash        string
	Decision         string
	ResolvedClaimID  *string
	ResolutionAction ResolutionAction
	LinkedEntityIDs  []string
	Metadata         map[string]any
	CreatedAt        time.Time
}
