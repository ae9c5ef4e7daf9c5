// Package storage keeps migrations on disk, one folder per migration:
//
//	<root>/<14-digit timestamp>_<slug>/migration.sql
//	<root>/<14-digit timestamp>_<slug>/down.sql       (optional)
//	<root>/<14-digit timestamp>_<slug>/metadata.json  (optional)
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"schemasync/internal/migration"
)

const (
	ForwardFile  = "migration.sql"
	RollbackFile = "down.sql"
	MetadataFile = "metadata.json"
)

var (
	ErrExists    = errors.New("migration folder already exists")
	ErrNotFound  = errors.New("migration not found")
	ErrInvalidID = errors.New("invalid migration id")
)

// Dir is a migrations directory.
type Dir struct {
	Root string

	writeFile func(name string, data []byte, perm fs.FileMode) error
}

func New(root string) *Dir {
	return &Dir{Root: root}
}

// EnsureBase makes sure the root exists.
func (d *Dir) EnsureBase() error {
	return os.MkdirAll(d.Root, 0o755)
}

// Write creates the folder for m. Existing folders are never overwritten.
func (d *Dir) Write(m *migration.Migration) error {
	if !migration.ValidID(m.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}
	if err := d.EnsureBase(); err != nil {
		return err
	}
	dir := filepath.Join(d.Root, m.ID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", m.ID, ErrExists)
		}
		return err
	}
	if err := d.writeFiles(dir, m); err != nil {
		// A half-written folder would be discovered later.
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

func (d *Dir) writeFiles(dir string, m *migration.Migration) error {
	write := d.writeFile
	if write == nil {
		write = os.WriteFile
	}
	if err := write(filepath.Join(dir, ForwardFile), []byte(m.SQL), 0o644); err != nil {
		return fmt.Errorf("write forward script: %w", err)
	}
	if m.RollbackSQL != "" {
		if err := write(filepath.Join(dir, RollbackFile), []byte(m.RollbackSQL), 0o644); err != nil {
			return fmt.Errorf("write rollback script: %w", err)
		}
	}
	data, err := json.MarshalIndent(m.Metadata, "", "  ")
	if err != nil {
		return err
	}
	if err := write(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// NewestID returns the greatest migration id under the root, counting every
// folder with the id shape. It returns "" when there is none.
func (d *Dir) NewestID() (string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	newest := ""
	for _, e := range entries {
		if e.IsDir() && migration.ValidID(e.Name()) && e.Name() > newest {
			newest = e.Name()
		}
	}
	return newest, nil
}

// Discover returns every migration folder under the root, sorted by id.
// Folders that do not match the id shape or lack a forward script are
// skipped. A missing root yields no files.
func (d *Dir) Discover() ([]migration.File, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []migration.File{}, nil
		}
		return nil, err
	}
	files := []migration.File{}
	for _, e := range entries {
		if !e.IsDir() || !migration.ValidID(e.Name()) {
			continue
		}
		f, err := d.Load(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// Load reads one migration folder.
func (d *Dir) Load(id string) (migration.File, error) {
	if !migration.ValidID(id) {
		return migration.File{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := filepath.Join(d.Root, id)
	forward, err := os.ReadFile(filepath.Join(dir, ForwardFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return migration.File{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return migration.File{}, fmt.Errorf("read forward script: %w", err)
	}
	f := migration.File{
		ID:       id,
		Dir:      dir,
		SQL:      string(forward),
		Checksum: migration.Checksum(string(forward)),
	}
	rollback, err := os.ReadFile(filepath.Join(dir, RollbackFile))
	switch {
	case err == nil:
		f.RollbackSQL = string(rollback)
		f.HasRollback = true
	case !errors.Is(err, fs.ErrNotExist):
		return migration.File{}, fmt.Errorf("read rollback script: %w", err)
	}
	return f, nil
}

// LoadMetadata reads the metadata written with a migration. Folders authored
// by hand have none and yield the manual source.
func (d *Dir) LoadMetadata(id string) (migration.Metadata, error) {
	data, err := os.ReadFile(filepath.Join(d.Root, id, MetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return migration.Metadata{Source: migration.SourceManual}, nil
	}
	if err != nil {
		return migration.Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta migration.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return migration.Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// Migration rebuilds a pending migration from a folder, for folders that
// never went through the tracking table.
func (d *Dir) Migration(id string) (*migration.Migration, error) {
	f, err := d.Load(id)
	if err != nil {
		return nil, err
	}
	meta, err := d.LoadMetadata(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filepath.Join(f.Dir, ForwardFile))
	if err != nil {
		return nil, err
	}
	return &migration.Migration{
		ID:          f.ID,
		Name:        f.ID[15:],
		SQL:         f.SQL,
		RollbackSQL: f.RollbackSQL,
		Checksum:    f.Checksum,
		Status:      migration.StatusPending,
		CreatedAt:   info.ModTime().UTC(),
		Metadata:    meta,
	}, nil
}
