package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
)

type DocumentRepository struct {
	pool *pgxpool.Pool
}

// Upsert inserts a new document or, if one with the same (source_url,
// source_type) already exists, returns the existing row untouched —
// map is idempotent by URL.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *models.Document) (*models.Document, error) {
	const q = `
		INSERT INTO documents (document_id, source_url, source_type, title, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_url, source_type) WHERE source_url IS NOT NULL DO NOTHING
		RETURNING document_id, source_url, source_type, title, description,
		          content_path, content_hash, indexed_with_hash, created_at, updated_at`

	row := r.pool.QueryRow(ctx, q, doc.DocumentID, doc.SourceURL, doc.SourceType, doc.Title, doc.Description)
	result, err := scanDocument(row)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upsert document: %w", err)
	}

	// Conflict with no RETURNING row: fetch the existing document.
	existing, err := r.GetBySourceURL(ctx, *doc.SourceURL, doc.SourceType)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, documentID string) (*models.Document, error) {
	const q = `
		SELECT document_id, source_url, source_type, title, description,
		       content_path, content_hash, indexed_with_hash, created_at, updated_at
		FROM documents WHERE document_id = $1`
	doc, err := scanDocument(r.pool.QueryRow(ctx, q, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("document", documentID)
	}
	return doc, err
}

func (r *DocumentRepository) GetBySourceURL(ctx context.Context, sourceURL string, sourceType models.SourceType) (*models.Document, error) {
	const q = `
		SELECT document_id, source_url, source_type, title, description,
		       content_path, content_hash, indexed_with_hash, created_at, updated_at
		FROM documents WHERE source_url = $1 AND source_type = $2`
	doc, err := scanDocument(r.pool.QueryRow(ctx, q, sourceURL, sourceType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("document", sourceURL)
	}
	return doc, err
}

// RecordFetch updates the fetch-owned fields on a document after a
// fetch attempt: content path and hash are set together so a reader
// never observes a hash without its matching path.
func (r *DocumentRepository) RecordFetch(ctx context.Context, documentID, contentPath, contentHash string) error {
	const q = `
		UPDATE documents
		SET content_path = $2, content_hash = $3, updated_at = now()
		WHERE document_id = $1`
	_, err := r.pool.Exec(ctx, q, documentID, contentPath, contentHash)
	return err
}

// MarkIndexed records that indexing has processed the document's
// current content hash, enabling NeedsIndexing() to skip it next run.
func (r *DocumentRepository) MarkIndexed(ctx context.Context, documentID, hash string) error {
	const q = `UPDATE documents SET indexed_with_hash = $2, updated_at = now() WHERE document_id = $1`
	_, err := r.pool.Exec(ctx, q, documentID, hash)
	return err
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.DocumentID, &d.SourceURL, &d.SourceType, &d.Title, &d.Description,
		&d.ContentPath, &d.ContentHash, &d.IndexedWithHash, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
