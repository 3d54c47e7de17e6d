// Package database provides a real Postgres instance for integration
// tests, grounded on the teacher's test/database.NewTestClient: prefer
// an externally provisioned CI database when CI_DATABASE_URL is set,
// otherwise spin up a disposable testcontainers-go Postgres. Unlike
// the teacher (ent auto-migration), schema setup here runs Kurt's own
// embedded golang-migrate migrations, since repositories are hand-
// written against pgx rather than generated from an ent schema.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/boringdata/kurt/pkg/database"
)

// NewTestClient returns a *database.Client backed by a clean, fully
// migrated Postgres database. The container (or the test's slice of
// an external CI database) is torn down via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	if dsn := os.Getenv("CI_DATABASE_URL"); dsn != "" {
		t.Log("using external Postgres from CI_DATABASE_URL")
		return clientFromDSN(t, ctx, dsn)
	}

	t.Log("using testcontainers-go for Postgres")
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("kurt_test"),
		postgres.WithUsername("kurt_test"),
		postgres.WithPassword("kurt_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return clientFromDSN(t, ctx, connStr)
}

func clientFromDSN(t *testing.T, ctx context.Context, connStr string) *database.Client {
	t.Helper()
	cfg, err := database.ConfigFromDSN(connStr)
	require.NoError(t, err)

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}
