package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "schema.prisma", cfg.SchemaFile)
	assert.Equal(t, "_prisma_migrations", cfg.LedgerTable)
	assert.Equal(t, 5, cfg.DB.ConnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.DB.ConnectBackoff)
	assert.True(t, cfg.AuditEvents)
	assert.NoError(t, cfg.Validate())
	assert.Error(t, cfg.ValidateDB())
}

func TestLoadEnvironmentAndDotenv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("SCHEMASYNC_DB_DSN=postgres://file\nSCHEMASYNC_LEDGER_TABLE=ledger\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SCHEMASYNC_DB_DSN") })
	t.Setenv("SCHEMASYNC_LEDGER_TABLE", "from_env")
	t.Setenv("SCHEMASYNC_IGNORE", `^audit_, \.tmp$ ,`)
	t.Setenv("SCHEMASYNC_DB_CONNECT_BACKOFF", "2s")
	t.Setenv("SCHEMASYNC_DB_PROVIDER", "mysql")

	cfg, err := Load(dotenv)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file", cfg.DB.DSN)
	assert.Equal(t, "from_env", cfg.LedgerTable)
	assert.Equal(t, []string{"^audit_", `\.tmp$`}, cfg.Ignore)
	assert.Equal(t, 2*time.Second, cfg.DB.ConnectBackoff)
	assert.NoError(t, cfg.ValidateDB())
	assert.Contains(t, cfg.SystemTableNames(), "from_env")
}

func TestValidate(t *testing.T) {
	cfg := Config{SchemaFile: "s", MigrationsDir: "m", LedgerTable: "l", LogFormat: "yaml"}
	assert.ErrorContains(t, cfg.Validate(), "LOG_FORMAT")

	cfg.LogFormat = "text"
	cfg.DB = DBConfig{DSN: "x", Provider: "oracle", ConnectAttempts: 1}
	assert.ErrorContains(t, cfg.ValidateDB(), "not supported")
}
