package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
)

type EntityRepository struct {
	pool *pgxpool.Pool
}

func (r *EntityRepository) GetByID(ctx context.Context, entityID string) (*models.Entity, error) {
	const q = `
		SELECT entity_id, name, entity_type, description, aliases, version, created_at, updated_at
		FROM entities WHERE entity_id = $1`
	e, err := scanEntity(r.pool.QueryRow(ctx, q, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("entity", entityID)
	}
	return e, err
}

func (r *EntityRepository) FindByNameAndType(ctx context.Context, name, entityType string) (*models.Entity, error) {
	const q = `
		SELECT entity_id, name, entity_type, description, aliases, version, created_at, updated_at
		FROM entities WHERE lower(name) = lower($1) AND entity_type = $2`
	e, err := scanEntity(r.pool.QueryRow(ctx, q, name, entityType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("entity", name)
	}
	return e, err
}

// Create inserts a brand-new entity. Returns ErrAlreadyExists (via a
// unique-violation check) if (name, entity_type) already exists —
// callers should have checked FindByNameAndType first, but the
// constraint is the actual source of truth under concurrent writers.
func (r *EntityRepository) Create(ctx context.Context, e *models.Entity) error {
	const q = `
		INSERT INTO entities (entity_id, name, entity_type, description, aliases, embedding, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)`
	_, err := r.pool.Exec(ctx, q, e.EntityID, e.Name, e.EntityType, e.Description, e.Aliases, embeddingBytes(e.Embedding))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create entity %s: %w", e.EntityID, kurterrors.ErrAlreadyExists)
		}
		return fmt.Errorf("create entity %s: %w", e.EntityID, err)
	}
	return nil
}

// AddAlias performs an optimistic-concurrency read-modify-write: it
// appends alias to the entity's list only if the row's version still
// matches expectedVersion. Returns kurterrors.ErrConcurrentModify if
// another writer updated the entity first, so the caller (entity
// resolution) can retry up to its configured bound.
func (r *EntityRepository) AddAlias(ctx context.Context, entityID, alias string, expectedVersion int) error {
	const q = `
		UPDATE entities
		SET aliases = array_append(aliases, $3), version = version + 1, updated_at = now()
		WHERE entity_id = $1 AND version = $2 AND NOT ($3 = ANY(aliases))`
	tag, err := r.pool.Exec(ctx, q, entityID, expectedVersion, alias)
	if err != nil {
		return fmt.Errorf("add alias to entity %s: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the version moved or the alias is already present;
		// the caller re-reads and decides whether to retry.
		return kurterrors.ErrConcurrentModify
	}
	return nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	err := row.Scan(&e.EntityID, &e.Name, &e.EntityType, &e.Description, &e.Aliases, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

