package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/storage"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, io.Discard, strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDiffDryRunPrintsSQL(t *testing.T) {
	dir := t.TempDir()
	from := writeFile(t, dir, "from.prisma", "model User {\n  id String @id\n}\n")
	to := writeFile(t, dir, "to.prisma", "model User {\n  id   String @id\n  name String?\n}\n")
	migrations := filepath.Join(dir, "migrations")

	out, err := run(t, "", "--migrations-dir", migrations, "diff", "--dry-run", from, to)
	require.NoError(t, err)
	assert.Contains(t, out, "ADD COLUMN name text")
	assert.Contains(t, out, "-- rollback")

	files, err := storage.New(migrations).Discover()
	require.NoError(t, err)
	assert.Empty(t, files)

	out, err = run(t, "", "--migrations-dir", migrations, "diff", from, from)
	require.NoError(t, err)
	assert.Contains(t, out, "schemas match")
}

func TestNewWritesFolder(t *testing.T) {
	dir := t.TempDir()
	forward := writeFile(t, dir, "up.sql", "CREATE INDEX user_email ON \"user\" (email);\n")
	back := writeFile(t, dir, "down.sql", "DROP INDEX user_email;\n")
	migrations := filepath.Join(dir, "migrations")

	out, err := run(t, "", "--migrations-dir", migrations, "new", "email_index", "--sql", forward, "--rollback-sql", back)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote ")

	files, err := storage.New(migrations).Discover()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].ID, "_email_index"))
	assert.True(t, files[0].HasRollback)
}

func TestFmtCheckAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "schema.prisma", "model User {\nid String @id\n      email String @unique\n}\n")

	_, err := run(t, "", "fmt", "--check", path)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.code)

	_, err = run(t, "", "fmt", "--write", path)
	require.NoError(t, err)
	_, err = run(t, "", "fmt", "--check", path)
	require.NoError(t, err)

	out, err := run(t, "", "fmt", path)
	require.NoError(t, err)
	formatted, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), out)
}

func TestApplyArguments(t *testing.T) {
	_, err := run(t, "", "apply")
	assert.EqualError(t, err, "give a migration id or --all")

	_, err = run(t, "", "apply", "--all", "20240501100000_a")
	assert.EqualError(t, err, "give a migration id or --all")

	out, err := run(t, "no\n", "apply", "20240501100000_a")
	assert.EqualError(t, err, "aborted")
	assert.Contains(t, out, "About to apply 20240501100000_a")
}

func TestCheckRejectsUnknownSeverity(t *testing.T) {
	_, err := run(t, "", "check", "--fail-on", "urgent")
	assert.ErrorContains(t, err, "unknown severity")
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, exitCode(nil, &stderr))
	assert.Equal(t, 1, exitCode(errors.New("boom"), &stderr))
	assert.Equal(t, 2, exitCode(&exitError{code: 2, msg: "drift at or above low severity"}, &stderr))
	assert.Contains(t, stderr.String(), "error: boom")
}
