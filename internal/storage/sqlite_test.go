package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSQLite(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, setupTestSQLite(t))
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	store := setupTestSQLite(t)
	assert.NoError(t, store.RunMigrations())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	require.NoError(t, store.Set(ctx, "user-1", "order_submission_status", []byte(`{"status":"in_progress"}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.RunMigrations())

	value, err := reopened.Get(ctx, "user-1", "order_submission_status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"in_progress"}`, string(value))
}
