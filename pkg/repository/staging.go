package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boringdata/kurt/pkg/models"
)

// StagingRepository owns the per-workflow disposable tables a map,
// fetch, or index run writes to while it executes. Rows persist after
// the run completes for audit and replay but are never read across
// an unrelated workflow_id, except claim resolution consulting its
// own run's claim groups.
type StagingRepository struct {
	pool *pgxpool.Pool
}

func (r *StagingRepository) InsertDiscovery(ctx context.Context, row *models.LandingDiscoveryRow) error {
	const q = `
		INSERT INTO landing_discovery (workflow_id, document_id, method, status)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, row.WorkflowID, row.DocumentID, row.Method, row.Status)
	if err != nil {
		return fmt.Errorf("insert discovery row for %s: %w", row.DocumentID, err)
	}
	return nil
}

func (r *StagingRepository) ListDiscovery(ctx context.Context, workflowID string) ([]*models.LandingDiscoveryRow, error) {
	const q = `
		SELECT id, workflow_id, document_id, method, status, created_at, updated_at
		FROM landing_discovery WHERE workflow_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list discovery rows for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.LandingDiscoveryRow
	for rows.Next() {
		var d models.LandingDiscoveryRow
		if err := rows.Scan(&d.ID, &d.WorkflowID, &d.DocumentID, &d.Method, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan discovery row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *StagingRepository) InsertFetch(ctx context.Context, row *models.LandingFetchRow) error {
	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("marshal fetch metadata: %w", err)
	}
	const q = `
		INSERT INTO landing_fetch (workflow_id, document_id, status, skip_reason, content_length,
		                            content_hash, content_path, engine, embedding, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, q, row.WorkflowID, row.DocumentID, row.Status, row.SkipReason, row.ContentLength,
		row.ContentHash, row.ContentPath, row.Engine, embeddingBytes(row.Embedding), row.ErrorMessage, metadata)
	if err != nil {
		return fmt.Errorf("insert fetch row for %s: %w", row.DocumentID, err)
	}
	return nil
}

func (r *StagingRepository) ListFetch(ctx context.Context, workflowID string) ([]*models.LandingFetchRow, error) {
	const q = `
		SELECT id, workflow_id, document_id, status, skip_reason, content_length, content_hash,
		       content_path, engine, embedding, error_message, metadata, created_at, updated_at
		FROM landing_fetch WHERE workflow_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list fetch rows for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.LandingFetchRow
	for rows.Next() {
		var f models.LandingFetchRow
		var embBytes, metadata []byte
		if err := rows.Scan(&f.ID, &f.WorkflowID, &f.DocumentID, &f.Status, &f.SkipReason, &f.ContentLength,
			&f.ContentHash, &f.ContentPath, &f.Engine, &embBytes, &f.ErrorMessage, &metadata, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fetch row: %w", err)
		}
		f.Embedding = embeddingFromBytes(embBytes)
		if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal fetch metadata: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r *StagingRepository) InsertSectionExtraction(ctx context.Context, row *models.SectionExtractionRow) error {
	entities, err := json.Marshal(row.Entities)
	if err != nil {
		return fmt.Errorf("marshal section entities: %w", err)
	}
	relationships, err := json.Marshal(row.Relationships)
	if err != nil {
		return fmt.Errorf("marshal section relationships: %w", err)
	}
	claims, err := json.Marshal(row.Claims)
	if err != nil {
		return fmt.Errorf("marshal section claims: %w", err)
	}
	const q = `
		INSERT INTO staging_section_extractions (workflow_id, document_id, section_id, section_index, header,
		                                           content, embedding, entities, relationships, claims, content_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (workflow_id, document_id, section_index) DO UPDATE SET
			header = EXCLUDED.header,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			entities = EXCLUDED.entities,
			relationships = EXCLUDED.relationships,
			claims = EXCLUDED.claims,
			content_type = EXCLUDED.content_type,
			status = EXCLUDED.status,
			updated_at = now()`
	_, err = r.pool.Exec(ctx, q, row.WorkflowID, row.DocumentID, row.SectionID, row.SectionIndex, row.Header,
		row.Content, embeddingBytes(row.Embedding), entities, relationships, claims, row.ContentType, row.Status)
	if err != nil {
		return fmt.Errorf("insert section extraction %s/%d: %w", row.DocumentID, row.SectionIndex, err)
	}
	return nil
}

func (r *StagingRepository) ListSectionExtractions(ctx context.Context, workflowID string) ([]*models.SectionExtractionRow, error) {
	const q = `
		SELECT id, workflow_id, document_id, section_id, section_index, header, content, embedding,
		       entities, relationships, claims, content_type, status, created_at, updated_at
		FROM staging_section_extractions WHERE workflow_id = $1 ORDER BY document_id, section_index`
	rows, err := r.pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list section extractions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.SectionExtractionRow
	for rows.Next() {
		var s models.SectionExtractionRow
		var embBytes, entities, relationships, claims []byte
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.DocumentID, &s.SectionID, &s.SectionIndex, &s.Header,
			&s.Content, &embBytes, &entities, &relationships, &claims, &s.ContentType, &s.Status,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section extraction: %w", err)
		}
		s.Embedding = embeddingFromBytes(embBytes)
		if err := json.Unmarshal(entities, &s.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal section entities: %w", err)
		}
		if err := json.Unmarshal(relationships, &s.Relationships); err != nil {
			return nil, fmt.Errorf("unmarshal section relationships: %w", err)
		}
		if err := json.Unmarshal(claims, &s.Claims); err != nil {
			return nil, fmt.Errorf("unmarshal section claims: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// UpsertEntityResolution records that entityName resolved to
// resolvedEntityID within workflowID, letting later steps in the same
// run look up an already-resolved mention without re-querying entities.
func (r *StagingRepository) UpsertEntityResolution(ctx context.Context, row *models.EntityResolutionRow) error {
	const q = `
		INSERT INTO staging_entity_resolution (workflow_id, entity_name, resolved_entity_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, entity_name) DO UPDATE SET resolved_entity_id = EXCLUDED.resolved_entity_id`
	_, err := r.pool.Exec(ctx, q, row.WorkflowID, row.EntityName, row.ResolvedEntityID)
	if err != nil {
		return fmt.Errorf("upsert entity resolution %s: %w", row.EntityName, err)
	}
	return nil
}

func (r *StagingRepository) GetEntityResolution(ctx context.Context, workflowID, entityName string) (string, bool, error) {
	const q = `SELECT resolved_entity_id FROM staging_entity_resolution WHERE workflow_id = $1 AND entity_name = $2`
	var id string
	err := r.pool.QueryRow(ctx, q, workflowID, entityName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get entity resolution %s: %w", entityName, err)
	}
	return id, true, nil
}

func (r *StagingRepository) InsertClaimGroup(ctx context.Context, row *models.ClaimGroupRow) error {
	entityIndices, err := json.Marshal(row.EntityIndices)
	if err != nil {
		return fmt.Errorf("marshal claim group entity indices: %w", err)
	}
	similarExisting, err := json.Marshal(row.SimilarExisting)
	if err != nil {
		return fmt.Errorf("marshal claim group similar existing: %w", err)
	}
	const q = `
		INSERT INTO staging_claim_groups (workflow_id, claim_hash, document_id, section_id, claim_type,
		                                   statement, confidence, source_quote, cluster_id, cluster_size,
		                                   decision, canonical_statement, entity_indices, similar_existing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.pool.Exec(ctx, q, row.WorkflowID, row.ClaimHash, row.DocumentID, row.SectionID, row.ClaimType,
		row.Statement, row.Confidence, row.SourceQuote, row.ClusterID, row.ClusterSize,
		row.Decision, row.CanonicalStatement, entityIndices, similarExisting)
	if err != nil {
		return fmt.Errorf("insert claim group %s: %w", row.ClaimHash, err)
	}
	return nil
}

// ListClaimGroups returns every claim occurrence staged for
// workflowID, the working set claim resolution operates over.
func (r *StagingRepository) ListClaimGroups(ctx context.Context, workflowID string) ([]*models.ClaimGroupRow, error) {
	const q = `
		SELECT id, workflow_id, claim_hash, document_id, section_id, claim_type, statement, confidence,
		       source_quote, cluster_id, cluster_size, decision, canonical_statement, entity_indices,
		       similar_existing, created_at
		FROM staging_claim_groups WHERE workflow_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list claim groups for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.ClaimGroupRow
	for rows.Next() {
		var g models.ClaimGroupRow
		var entityIndices, similarExisting []byte
		if err := rows.Scan(&g.ID, &g.WorkflowID, &g.ClaimHash, &g.DocumentID, &g.SectionID, &g.ClaimType,
			&g.Statement, &g.Confidence, &g.SourceQuote, &g.ClusterID, &g.ClusterSize, &g.Decision,
			&g.CanonicalStatement, &entityIndices, &similarExisting, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claim group: %w", err)
		}
		if err := json.Unmarshal(entityIndices, &g.EntityIndices); err != nil {
			return nil, fmt.Errorf("unmarshal claim group entity indices: %w", err)
		}
		if err := json.Unmarshal(similarExisting, &g.SimilarExisting); err != nil {
			return nil, fmt.Errorf("unmarshal claim group similar existing: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// UpdateClusterAssignment writes clustering's decision back onto a
// staged claim group row, identified by its own id.
func (r *StagingRepository) UpdateClusterAssignment(ctx context.Context, id int64, clusterID, clusterSize int, decision string, canonicalStatement *string, similarExisting []string) error {
	similar, err := json.Marshal(similarExisting)
	if err != nil {
		return fmt.Errorf("marshal similar existing: %w", err)
	}
	const q = `
		UPDATE staging_claim_groups
		SET cluster_id = $2, cluster_size = $3, decision = $4, canonical_statement = $5, similar_existing = $6
		WHERE id = $1`
	_, err = r.pool.Exec(ctx, q, id, clusterID, clusterSize, decision, canonicalStatement, similar)
	return err
}

func (r *StagingRepository) InsertClaimResolution(ctx context.Context, row *models.ClaimResolutionRow) error {
	linkedEntityIDs, err := json.Marshal(row.LinkedEntityIDs)
	if err != nil {
		return fmt.Errorf("marshal claim resolution linked entities: %w", err)
	}
	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("marshal claim resolution metadata: %w", err)
	}
	const q = `
		INSERT INTO staging_claim_resolution (workflow_id, claim_hash, decision, resolved_claim_id,
		                                       resolution_action, linked_entity_ids, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id, claim_hash) DO UPDATE SET
			decision = EXCLUDED.decision,
			resolved_claim_id = EXCLUDED.resolved_claim_id,
			resolution_action = EXCLUDED.resolution_action,
			linked_entity_ids = EXCLUDED.linked_entity_ids,
			metadata = EXCLUDED.metadata`
	_, err = r.pool.Exec(ctx, q, row.WorkflowID, row.ClaimHash, row.Decision, row.ResolvedClaimID,
		row.ResolutionAction, linkedEntityIDs, metadata)
	if err != nil {
		return fmt.Errorf("insert claim resolution %s: %w", row.ClaimHash, err)
	}
	return nil
}

// CountResolutionActions returns how many staged claim resolutions for
// workflowID landed in each ResolutionAction bucket, the counts the
// index workflow reports as its final summary.
func (r *StagingRepository) CountResolutionActions(ctx context.Context, workflowID string) (map[models.ResolutionAction]int, error) {
	const q = `
		SELECT resolution_action, count(*) FROM staging_claim_resolution
		WHERE workflow_id = $1 GROUP BY resolution_action`
	rows, err := r.pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("count resolution actions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	counts := make(map[models.ResolutionAction]int)
	for rows.Next() {
		var action models.ResolutionAction
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan resolution count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
