package store

import (
	"context"
	"testing"
	"testing/fstest"
)

// --- Migrate ---

func TestMigrate(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	testFS := fstest.MapFS{
		"900_test_migrate.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE test_migrate_tbl (id INT);"),
		},
	}
	t.Cleanup(func() {
		testStore.pool.Exec(ctx, "DROP TABLE IF EXISTS test_migrate_tbl")
		testStore.pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", "900_test_migrate.sql")
	})

	t.Run("applies migration and records version", func(t *testing.T) {
		if err := testStore.Migrate(ctx, testFS); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}

		var tableExists bool
		err := testStore.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'test_migrate_tbl')",
		).Scan(&tableExists)
		if err != nil {
			t.Fatalf("checking table existence: %v", err)
		}
		if !tableExists {
			t.Error("expected test_migrate_tbl to exist after migration")
		}
	})

	t.Run("second run skips applied migration", func(t *testing.T) {
		// Re-running CREATE TABLE would fail if the file were executed again.
		if err := testStore.Migrate(ctx, testFS); err != nil {
			t.Fatalf("second Migrate failed: %v", err)
		}
	})

	t.Run("failed migration rolls back and is not recorded", func(t *testing.T) {
		badFS := fstest.MapFS{
			"901_bad.sql": &fstest.MapFile{Data: []byte("CREATE TABLE broken (;")},
		}
		if err := testStore.Migrate(ctx, badFS); err == nil {
			t.Fatal("expected error for invalid SQL, got nil")
		}

		var recorded bool
		err := testStore.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", "901_bad.sql",
		).Scan(&recorded)
		if err != nil {
			t.Fatalf("checking schema_migrations: %v", err)
		}
		if recorded {
			t.Error("expected failed migration not to be recorded")
		}
	})
}
