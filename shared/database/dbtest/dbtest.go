//go:build integration

// Package dbtest starts a throwaway Postgres for repository integration
// tests.
package dbtest

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/database"
)

// StartPostgres runs postgres:15-alpine, applies the migrations found at
// dir in fsys and returns an open pool. Everything is torn down with t.
func StartPostgres(t *testing.T, fsys fs.FS, dir string) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("moneyflow"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate postgres container: %s", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %s", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := database.Open(openCtx, connStr, database.DefaultPool)
	if err != nil {
		t.Fatalf("Failed to open database: %s", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db, fsys, dir, zap.NewNop()); err != nil {
		t.Fatalf("Failed to run migrations: %s", err)
	}
	return db
}
