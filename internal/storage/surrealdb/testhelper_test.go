package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/offerengine/internal/common"
)

// testDB connects to the shared SurrealDB test container, selects a
// fresh namespace/database per test (so tests don't see each other's
// rows), and defines every table this package owns.
func testDB(t *testing.T) *surrealdb.DB {
	t.Helper()
	ctx := context.Background()

	container := startSurrealDB(t)

	db, err := surrealdb.New(container.address())
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}
	t.Cleanup(func() { db.Close(ctx) })

	if _, err := db.SignIn(ctx, map[string]interface{}{"user": "root", "pass": "root"}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}

	ns := "test_" + t.Name()
	if err := db.Use(ctx, ns, ns); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}

	for _, table := range tables {
		sql := "DEFINE TABLE IF NOT EXISTS " + table + " SCHEMALESS"
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			t.Fatalf("define table %s: %v", table, err)
		}
	}

	return db
}

func testLogger() *common.Logger {
	return common.NewLogger("error")
}

// seedAccount inserts a minimal active account row directly, bypassing
// AccountStore, so tests of one method don't depend on another.
func seedAccount(ctx context.Context, t *testing.T, db *surrealdb.DB, id uuid.UUID) {
	seedAccountRefreshedAt(ctx, t, db, id, time.Now())
}

func seedAccountRefreshedAt(ctx context.Context, t *testing.T, db *surrealdb.DB, id uuid.UUID, offersRefreshedAt time.Time) {
	t.Helper()
	sql := `UPSERT $rid SET row_id = $row_id, username = $username, access_token = '', refresh_token = '',
		refreshed_at = $now, active = true, refresh_failure_count = 0,
		offers_refreshed_at = $offers_refreshed_at, created_at = $now, updated_at = $now`
	vars := map[string]any{
		"rid":                 surrealmodels.NewRecordID("account", id.String()),
		"row_id":              id.String(),
		"username":            "test-" + id.String(),
		"now":                 time.Now(),
		"offers_refreshed_at": offersRefreshedAt,
	}
	if _, err := surrealdb.Query[any](ctx, db, sql, vars); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}
