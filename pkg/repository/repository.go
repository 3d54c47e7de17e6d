// Package repository implements pgx-backed persistence for every
// table in pkg/database/migrations. Each repository method opens or
// participates in a short transaction; none hold a transaction open
// across an LLM, embedding, or HTTP call, per the concurrency model's
// short-transaction rule.
package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories bundles every table-scoped repository behind the pool
// they share. Steps and services take the one they need rather than
// this whole struct, keeping their dependencies explicit.
type Repositories struct {
	Documents *DocumentRepository
	Entities  *EntityRepository
	Claims    *ClaimRepository
	Workflows *WorkflowRepository
	Staging   *StagingRepository
}

// New constructs every repository over the same pool.
func New(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Documents: &DocumentRepository{pool: pool},
		Entities:  &EntityRepository{pool: pool},
		Claims:    &ClaimRepository{pool: pool},
		Workflows: &WorkflowRepository{pool: pool},
		Staging:   &StagingRepository{pool: pool},
	}
}
