package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/migrate"
	"schemasync/internal/migration"
)

// openTestStore connects to SCHEMASYNC_TEST_TRACKING_DSN and skips the test
// when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SCHEMASYNC_TEST_TRACKING_DSN")
	if dsn == "" {
		t.Skip("SCHEMASYNC_TEST_TRACKING_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 3, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrate.New(pool, slog.Default()).Up(ctx))
	return New(pool)
}

func newTracked(t *testing.T) *migration.Migration {
	sql := "ALTER TABLE \"user\" ADD COLUMN name text;\n"
	return &migration.Migration{
		ID:          "20240501100000_" + uuid.NewString()[:8],
		Name:        "store_test",
		SQL:         sql,
		RollbackSQL: "ALTER TABLE \"user\" DROP COLUMN IF EXISTS name;\n",
		Checksum:    migration.Checksum(sql),
		Metadata:    migration.Metadata{Source: migration.SourceManual, Statements: 1, RollbackAvailable: true},
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := newTracked(t)

	require.NoError(t, s.Create(ctx, m))
	assert.ErrorIs(t, s.Create(ctx, m), ErrMigrationExists)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.StatusPending, got.Status)
	assert.Equal(t, m.Metadata, got.Metadata)
	assert.Equal(t, m.RollbackSQL, got.RollbackSQL)

	require.NoError(t, s.UpdateStatus(ctx, m.ID, migration.StatusRunning, ""))
	require.NoError(t, s.UpdateStatus(ctx, m.ID, migration.StatusCompleted, ""))

	var te *TransitionError
	require.True(t, errors.As(s.UpdateStatus(ctx, m.ID, migration.StatusRunning, ""), &te))
	assert.Equal(t, migration.StatusCompleted, te.From)

	require.NoError(t, s.UpdateStatus(ctx, m.ID, migration.StatusRolledBack, ""))
	got, err = s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRolledBack, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.NotNil(t, got.RolledBackAt)
}

func TestStoreFailureKeepsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := newTracked(t)
	require.NoError(t, s.Create(ctx, m))

	require.NoError(t, s.UpdateStatus(ctx, m.ID, migration.StatusRunning, ""))
	require.NoError(t, s.UpdateStatus(ctx, m.ID, migration.StatusFailed, "statement 1 failed"))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.StatusFailed, got.Status)
	assert.Equal(t, "statement 1 failed", got.Error)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}

func TestStoreMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "20000101000000_missing")
	assert.ErrorIs(t, err, ErrMigrationNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "20000101000000_missing", migration.StatusRunning, ""), ErrMigrationNotFound)
}

func TestCreateValidates(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.Create(context.Background(), &migration.Migration{SQL: "SELECT 1;"}), ErrMigrationIDEmpty)
	assert.ErrorIs(t, s.Create(context.Background(), &migration.Migration{ID: "20240101000000_x"}), ErrMigrationSQLEmpty)
}

func TestStampColumn(t *testing.T) {
	assert.Equal(t, "started_at", stampColumn(migration.StatusRunning))
	assert.Equal(t, "finished_at", stampColumn(migration.StatusCompleted))
	assert.Equal(t, "finished_at", stampColumn(migration.StatusFailed))
	assert.Equal(t, "rolled_back_at", stampColumn(migration.StatusRolledBack))
}
