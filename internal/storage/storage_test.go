package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/migration"
)

func sample(id string) *migration.Migration {
	sql := "ALTER TABLE user ADD COLUMN name text;\n"
	return &migration.Migration{
		ID:          id,
		SQL:         sql,
		RollbackSQL: "ALTER TABLE user DROP COLUMN IF EXISTS name;\n",
		Checksum:    migration.Checksum(sql),
		Metadata:    migration.Metadata{Source: migration.SourceDriftReport, RollbackAvailable: true},
	}
}

func TestWriteAndDiscover(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "migrations"))

	files, err := d.Discover()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, d.Write(sample("20240102000000_second")))
	require.NoError(t, d.Write(sample("20240101000000_first")))

	files, err = d.Discover()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "20240101000000_first", files[0].ID)
	assert.Equal(t, "20240102000000_second", files[1].ID)
	assert.Equal(t, sample("").Checksum, files[0].Checksum)
	assert.True(t, files[0].HasRollback)

	meta, err := d.LoadMetadata(files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, migration.SourceDriftReport, meta.Source)
}

func TestWriteRefusesOverwrite(t *testing.T) {
	d := New(t.TempDir())
	require.NoError(t, d.Write(sample("20240101000000_first")))
	assert.ErrorIs(t, d.Write(sample("20240101000000_first")), ErrExists)
	assert.ErrorIs(t, d.Write(sample("first")), ErrInvalidID)
}

func TestWriteRemovesFolderOnFailure(t *testing.T) {
	root := t.TempDir()
	d := New(root)
	d.writeFile = func(name string, data []byte, perm fs.FileMode) error {
		if filepath.Base(name) == RollbackFile {
			return errors.New("disk full")
		}
		return os.WriteFile(name, data, perm)
	}

	err := d.Write(sample("20240101000000_first"))
	assert.ErrorContains(t, err, "write rollback script")
	_, statErr := os.Stat(filepath.Join(root, "20240101000000_first"))
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))

	d.writeFile = nil
	require.NoError(t, d.Write(sample("20240101000000_first")))
}

func TestNewestID(t *testing.T) {
	root := filepath.Join(t.TempDir(), "migrations")
	d := New(root)
	id, err := d.NewestID()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, d.Write(sample("20240102000000_b")))
	require.NoError(t, d.Write(sample("20240101000000_a")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20240105000000_empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))

	id, err = d.NewestID()
	require.NoError(t, err)
	assert.Equal(t, "20240105000000_empty", id)
}

func TestDiscoverSkipsForeignFolders(t *testing.T) {
	root := t.TempDir()
	d := New(root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20240101000000_empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "20240101000000_loose.sql"), []byte("SELECT 1;"), 0o644))

	hand := filepath.Join(root, "20240103000000_hand")
	require.NoError(t, os.MkdirAll(hand, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hand, ForwardFile), []byte("SELECT 1;\n"), 0o644))

	files, err := d.Discover()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "20240103000000_hand", files[0].ID)
	assert.False(t, files[0].HasRollback)

	m, err := d.Migration("20240103000000_hand")
	require.NoError(t, err)
	assert.Equal(t, "hand", m.Name)
	assert.Equal(t, migration.SourceManual, m.Metadata.Source)
	assert.Equal(t, migration.StatusPending, m.Status)

	_, err = d.Load("20240109000000_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
