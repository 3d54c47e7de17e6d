package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
)

type ClaimRepository struct {
	pool *pgxpool.Pool
}

func (r *ClaimRepository) GetByHash(ctx context.Context, claimHash string) (*models.Claim, error) {
	const q = `
		SELECT claim_id, claim_hash, statement, claim_type, confidence, subject_entity_id,
		       source_quote, document_id, section_id, workflow_id, created_at, updated_at
		FROM claims WHERE claim_hash = $1`
	c, err := scanClaim(r.pool.QueryRow(ctx, q, claimHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("claim", claimHash)
	}
	return c, err
}

// FindSimilar returns existing claims whose stored embedding has
// cosine similarity to queryEmbedding above threshold. Similarity is
// computed in Go over the stored embeddings; no vector index is
// consulted.
func (r *ClaimRepository) FindSimilar(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]*models.Claim, error) {
	const q = `
		SELECT claim_id, claim_hash, statement, claim_type, confidence, subject_entity_id,
		       source_quote, document_id, section_id, workflow_id, created_at, updated_at, embedding
		FROM claims WHERE embedding IS NOT NULL`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query claims for similarity: %w", err)
	}
	defer rows.Close()

	var results []*models.Claim
	for rows.Next() {
		var c models.Claim
		var embBytes []byte
		if err := rows.Scan(&c.ClaimID, &c.ClaimHash, &c.Statement, &c.ClaimType, &c.Confidence,
			&c.SubjectEntityID, &c.SourceQuote, &c.DocumentID, &c.SectionID, &c.WorkflowID,
			&c.CreatedAt, &c.UpdatedAt, &embBytes); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		emb := embeddingFromBytes(embBytes)
		if cosineSimilarity(queryEmbedding, emb) >= threshold {
			c.Embedding = emb
			cc := c
			results = append(results, &cc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Create inserts a new claim and links it to every entity in
// linkedEntityIDs inside one short transaction.
func (r *ClaimRepository) Create(ctx context.Context, c *models.Claim, linkedEntityIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create-claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertClaim = `
		INSERT INTO claims (claim_id, claim_hash, statement, claim_type, confidence,
		                     subject_entity_id, source_quote, document_id, section_id, workflow_id, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = tx.Exec(ctx, insertClaim, c.ClaimID, c.ClaimHash, c.Statement, c.ClaimType, c.Confidence,
		c.SubjectEntityID, c.SourceQuote, c.DocumentID, c.SectionID, c.WorkflowID, embeddingBytes(c.Embedding))
	if err != nil {
		return fmt.Errorf("insert claim %s: %w", c.ClaimID, err)
	}

	for _, entityID := range linkedEntityIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO claim_entities (claim_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			c.ClaimID, entityID); err != nil {
			return fmt.Errorf("link claim %s to entity %s: %w", c.ClaimID, entityID, err)
		}
	}

	return tx.Commit(ctx)
}

// LinkEntities adds any of newEntityIDs not already linked to an
// existing claim, used when a MERGE_WITH occurrence brings entity
// links the original CREATE_NEW occurrence didn't have.
func (r *ClaimRepository) LinkEntities(ctx context.Context, claimID string, newEntityIDs []string) error {
	for _, entityID := range newEntityIDs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO claim_entities (claim_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			claimID, entityID); err != nil {
			return fmt.Errorf("link claim %s to entity %s: %w", claimID, entityID, err)
		}
	}
	return nil
}

// DeleteForDocument removes every Claim (and, via ON DELETE CASCADE,
// claim_entities) for documentID belonging to a workflow other than
// excludeWorkflowID, so a re-indexed document's stale claims don't
// accumulate alongside the freshly derived ones.
func (r *ClaimRepository) DeleteForDocument(ctx context.Context, documentID, excludeWorkflowID string) error {
	const q = `DELETE FROM claims WHERE document_id = $1 AND workflow_id <> $2`
	_, err := r.pool.Exec(ctx, q, documentID, excludeWorkflowID)
	return err
}

func scanClaim(row pgx.Row) (*models.Claim, error) {
	var c models.Claim
	err := row.Scan(&c.ClaimID, &c.ClaimHash, &c.Statement, &c.ClaimType, &c.Confidence,
		&c.SubjectEntityID, &c.SourceQuote, &c.DocumentID, &c.SectionID, &c.WorkflowID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// cosineSimilarity scores FindSimilar's candidates; pkg/claimclustering
// computes the same metric with its own copy for in-memory clustering.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
