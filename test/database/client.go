// Package database provides shared PostgreSQL helpers for integration
// tests. In CI (CI_DATABASE_URL set) it connects to an external service
// container; locally it spins up a PostgreSQL testcontainer.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/database"
)

// NewTestClient returns a migrated database client against a disposable
// PostgreSQL instance. Cleanup is registered on t.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("CI_DATABASE_URL")
	if url == "" {
		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("logsleuth_test"),
			tcpostgres.WithUsername("logsleuth"),
			tcpostgres.WithPassword("logsleuth"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		url, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	client, err := database.NewClient(ctx, config.DatabaseConfig{
		URL:             url,
		Schema:          "public",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}
