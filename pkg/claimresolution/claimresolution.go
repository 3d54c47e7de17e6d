// Package claimresolution turns pkg/claimclustering's staged decisions
// into the durable claims table: resolving each occurrence's local
// entity_indices to stable entity ids, then dispatching on decision to
// create, merge into, or deduplicate against a claim. Like
// claimclustering it has no teacher analog; its shape follows the
// two-phase resolve-then-apply pattern pkg/workflowcore's own
// build-then-execute split uses, so a DUPLICATE_OF occurrence can
// always find the CREATE_NEW sibling its own cluster produced
// regardless of row order.
package claimresolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/boringdata/kurt/pkg/models"
)

// SectionSource supplies the entity mentions a claim group's
// entity_indices index into.
type SectionSource interface {
	ListSectionExtractions(ctx context.Context, workflowID string) ([]*models.SectionExtractionRow, error)
}

// GroupSource supplies the claim occurrences clustering staged.
type GroupSource interface {
	ListClaimGroups(ctx context.Context, workflowID string) ([]*models.ClaimGroupRow, error)
}

// EntityResolver maps a locally mentioned entity name to the stable
// entity id it resolved to within this workflow.
type EntityResolver interface {
	GetEntityResolution(ctx context.Context, workflowID, entityName string) (string, bool, error)
}

// ResolutionSink persists the final disposition of each occurrence.
type ResolutionSink interface {
	InsertClaimResolution(ctx context.Context, row *models.ClaimResolutionRow) error
	CountResolutionActions(ctx context.Context, workflowID string) (map[models.ResolutionAction]int, error)
}

// StagingSource is everything claim resolution reads from and writes
// back to the per-workflow staging tables.
type StagingSource interface {
	SectionSource
	GroupSource
	EntityResolver
	ResolutionSink
}

// ClaimStore is the subset of pkg/repository.ClaimRepository claim
// resolution needs to materialize decisions into durable claims.
type ClaimStore interface {
	GetByHash(ctx context.Context, claimHash string) (*models.Claim, error)
	Create(ctx context.Context, c *models.Claim, linkedEntityIDs []string) error
	LinkEntities(ctx context.Context, claimID string, newEntityIDs []string) error
	DeleteForDocument(ctx context.Context, documentID, excludeWorkflowID string) error
}

// Summary reports how many occurrences landed in each
// ResolutionAction bucket. Created counts actual claims.Create
// inserts, never the raw count of CREATE_NEW decisions — a
// MERGE_WITH occurrence degraded to CREATE_NEW also increments it, and
// a CREATE_NEW occurrence with no resolvable subject entity does not.
type Summary struct {
	Created      int
	Merged       int
	Deduplicated int
	Skipped      int
}

// Run resolves and applies every staged claim group for workflowID.
func Run(ctx context.Context, staging StagingSource, claims ClaimStore, workflowID string) (Summary, error) {
	sections, err := staging.ListSectionExtractions(ctx, workflowID)
	if err != nil {
		return Summary{}, fmt.Errorf("list section extractions: %w", err)
	}
	entities := buildEntityLookup(sections)

	groups, err := staging.ListClaimGroups(ctx, workflowID)
	if err != nil {
		return Summary{}, fmt.Errorf("list claim groups: %w", err)
	}
	if len(groups) == 0 {
		return Summary{}, nil
	}

	if err := deleteStaleClaims(ctx, claims, workflowID, groups); err != nil {
		return Summary{}, err
	}

	var summary Summary
	resolvedInRun := make(map[string]string, len(groups)) // claim_hash -> claim_id

	// Phase 1: every CREATE_NEW and MERGE_WITH occurrence resolves (or
	// creates) a claim id, so phase 2's DUPLICATE_OF lookups always
	// find their cluster's canonical claim regardless of row order.
	var duplicates []*models.ClaimGroupRow
	for _, g := range groups {
		kind, targetHash := parseDecision(g.Decision)
		entityIDs := resolveEntityIDs(ctx, staging, workflowID, entities, g)

		switch kind {
		case "CREATE_NEW":
			action, claimID, err := createClaim(ctx, claims, workflowID, g, entityIDs)
			if err != nil {
				return Summary{}, err
			}
			if err := persist(ctx, staging, workflowID, g, claimID, action, entityIDs, nil); err != nil {
				return Summary{}, err
			}
			tally(&summary, action)
			if claimID != nil {
				resolvedInRun[g.ClaimHash] = *claimID
			}

		case "MERGE_WITH":
			targetID, found := lookupClaimID(ctx, claims, resolvedInRun, targetHash)
			if !found {
				// The merge target isn't resolvable (never staged in
				// this run, or its own creation was skipped for lack
				// of a subject entity): degrade to CREATE_NEW rather
				// than silently dropping the occurrence, and record
				// the degrade so a reviewer can tell it apart from an
				// ordinary CREATE_NEW.
				metadata := map[string]any{"degraded_from": "MERGE_WITH", "merge_target": targetHash}
				action, claimID, err := createClaim(ctx, claims, workflowID, g, entityIDs)
				if err != nil {
					return Summary{}, err
				}
				if err := persist(ctx, staging, workflowID, g, claimID, action, entityIDs, metadata); err != nil {
					return Summary{}, err
				}
				tally(&summary, action)
				if claimID != nil {
					resolvedInRun[g.ClaimHash] = *claimID
				}
				continue
			}

			if len(entityIDs) > 0 {
				if err := claims.LinkEntities(ctx, targetID, entityIDs); err != nil {
					return Summary{}, fmt.Errorf("link merged claim %s: %w", targetID, err)
				}
			}
			resolvedInRun[g.ClaimHash] = targetID
			id := targetID
			if err := persist(ctx, staging, workflowID, g, &id, models.ResolutionMerged, entityIDs, nil); err != nil {
				return Summary{}, err
			}
			summary.Merged++

		case "DUPLICATE_OF":
			duplicates = append(duplicates, g)

		default:
			if err := persist(ctx, staging, workflowID, g, nil, models.ResolutionSkipped, entityIDs,
				map[string]any{"reason": "unrecognized_decision", "decision": g.Decision}); err != nil {
				return Summary{}, err
			}
			summary.Skipped++
		}
	}

	// Phase 2: DUPLICATE_OF occurrences point at their cluster's
	// canonical claim hash, resolved in phase 1 above (or, failing
	// that, a claim persisted by an earlier workflow run).
	for _, g := range duplicates {
		_, targetHash := parseDecision(g.Decision)
		entityIDs := resolveEntityIDs(ctx, staging, workflowID, entities, g)
		targetID, found := lookupClaimID(ctx, claims, resolvedInRun, targetHash)
		if !found {
			if err := persist(ctx, staging, workflowID, g, nil, models.ResolutionSkipped, entityIDs,
				map[string]any{"reason": "duplicate_target_not_found", "duplicate_of": targetHash}); err != nil {
				return Summary{}, err
			}
			summary.Skipped++
			continue
		}
		if len(entityIDs) > 0 {
			if err := claims.LinkEntities(ctx, targetID, entityIDs); err != nil {
				return Summary{}, fmt.Errorf("link duplicate claim %s: %w", targetID, err)
			}
		}
		id := targetID
		if err := persist(ctx, staging, workflowID, g, &id, models.ResolutionDeduplicated, entityIDs, nil); err != nil {
			return Summary{}, err
		}
		summary.Deduplicated++
	}

	return summary, nil
}

// createClaim materializes a CREATE_NEW (or degraded MERGE_WITH)
// occurrence. A claim with no resolvable subject entity is skipped,
// never inserted — this is the only path that can return a skipped
// action from a CREATE_NEW-shaped decision.
func createClaim(ctx context.Context, claims ClaimStore, workflowID string, g *models.ClaimGroupRow, entityIDs []string) (models.ResolutionAction, *string, error) {
	if len(entityIDs) == 0 {
		return models.ResolutionSkipped, nil, nil
	}

	statement := g.Statement
	if g.CanonicalStatement != nil && *g.CanonicalStatement != "" {
		statement = *g.CanonicalStatement
	}

	claimID := uuid.NewString()
	sectionID := g.SectionID
	claim := &models.Claim{
		ClaimID:         claimID,
		ClaimHash:       g.ClaimHash,
		Statement:       statement,
		ClaimType:       g.ClaimType,
		Confidence:      g.Confidence,
		SubjectEntityID: entityIDs[0],
		LinkedEntityIDs: entityIDs,
		SourceQuote:     g.SourceQuote,
		DocumentID:      g.DocumentID,
		SectionID:       &sectionID,
		WorkflowID:      workflowID,
	}
	if err := claims.Create(ctx, claim, entityIDs); err != nil {
		return "", nil, fmt.Errorf("create claim %s: %w", claimID, err)
	}
	return models.ResolutionCreated, &claimID, nil
}

func persist(ctx context.Context, sink ResolutionSink, workflowID string, g *models.ClaimGroupRow, resolvedClaimID *string, action models.ResolutionAction, linkedEntityIDs []string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := &models.ClaimResolutionRow{
		WorkflowID:       workflowID,
		ClaimHash:        g.ClaimHash,
		Decision:         g.Decision,
		ResolvedClaimID:  resolvedClaimID,
		ResolutionAction: action,
		LinkedEntityIDs:  linkedEntityIDs,
		Metadata:         metadata,
	}
	if err := sink.InsertClaimResolution(ctx, row); err != nil {
		return fmt.Errorf("persist resolution for %s: %w", g.ClaimHash, err)
	}
	return nil
}

func tally(s *Summary, action models.ResolutionAction) {
	switch action {
	case models.ResolutionCreated:
		s.Created++
	case models.ResolutionMerged:
		s.Merged++
	case models.ResolutionDeduplicated:
		s.Deduplicated++
	case models.ResolutionSkipped:
		s.Skipped++
	}
}

// lookupClaimID resolves targetHash to a claim id, preferring a claim
// created earlier in this same resolution run over a database lookup
// so a fresh CREATE_NEW is visible to its own cluster's MERGE_WITH or
// DUPLICATE_OF siblings before any of it is committed to be read back.
func lookupClaimID(ctx context.Context, claims ClaimStore, resolvedInRun map[string]string, hash string) (string, bool) {
	if hash == "" {
		return "", false
	}
	if id, ok := resolvedInRun[hash]; ok {
		return id, true
	}
	existing, err := claims.GetByHash(ctx, hash)
	if err != nil || existing == nil {
		return "", false
	}
	return existing.ClaimID, true
}

// deleteStaleClaims removes any prior run's claims for every document
// this resolution touches, so re-indexing a changed document doesn't
// leave the old run's claims alongside the new ones.
func deleteStaleClaims(ctx context.Context, claims ClaimStore, workflowID string, groups []*models.ClaimGroupRow) error {
	seen := make(map[string]struct{})
	for _, g := range groups {
		if _, ok := seen[g.DocumentID]; ok {
			continue
		}
		seen[g.DocumentID] = struct{}{}
		if err := claims.DeleteForDocument(ctx, g.DocumentID, workflowID); err != nil {
			return fmt.Errorf("delete stale claims for %s: %w", g.DocumentID, err)
		}
	}
	return nil
}

// parseDecision splits a claim group's decision string into its kind
// (CREATE_NEW, MERGE_WITH, DUPLICATE_OF) and, for the latter two, the
// target claim hash.
func parseDecision(decision string) (kind, targetHash string) {
	if decision == "CREATE_NEW" {
		return "CREATE_NEW", ""
	}
	parts := strings.SplitN(decision, ":", 2)
	if len(parts) != 2 {
		return decision, ""
	}
	return parts[0], parts[1]
}

// buildEntityLookup indexes every section's entity mentions by
// "document_id|section_id" so claim occurrences can resolve their
// positional entity_indices back to names.
func buildEntityLookup(sections []*models.SectionExtractionRow) map[string][]models.SectionEntityMention {
	lookup := make(map[string][]models.SectionEntityMention, len(sections))
	for _, s := range sections {
		lookup[s.DocumentID+"|"+s.SectionID] = s.Entities
	}
	return lookup
}

// resolveEntityIDs maps a claim group's entity_indices to stable
// entity ids via the workflow's own staged entity resolution,
// skipping (not failing on) any index that is out of range or whose
// mention never resolved.
func resolveEntityIDs(ctx context.Context, resolver EntityResolver, workflowID string, lookup map[string][]models.SectionEntityMention, g *models.ClaimGroupRow) []string {
	mentions := lookup[g.DocumentID+"|"+g.SectionID]
	seen := make(map[string]struct{})
	var ids []string
	for _, idx := range g.EntityIndices {
		if idx < 0 || idx >= len(mentions) {
			continue
		}
		name := mentions[idx].Name
		id, ok, err := resolver.GetEntityResolution(ctx, workflowID, name)
		if err != nil || !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
