package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "SCHEMASYNC_"

type Config struct {
	DB DBConfig `envPrefix:"DB_"`

	// TrackingDSN points at the postgres database holding tracked_migrations
	// and audit_events. Empty disables both.
	TrackingDSN string `env:"TRACKING_DSN"`

	SchemaFile    string   `env:"SCHEMA_FILE" envDefault:"schema.prisma"`
	MigrationsDir string   `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	LedgerTable   string   `env:"LEDGER_TABLE" envDefault:"_prisma_migrations"`
	Ignore        []string `env:"IGNORE" envSeparator:","`
	SystemTables  []string `env:"SYSTEM_TABLES" envSeparator:","`

	HTTPAddress string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	AuditEvents bool   `env:"AUDIT_EVENTS" envDefault:"true"`
}

type DBConfig struct {
	// Provider is postgres or mysql. Empty takes the schema's datasource.
	Provider string `env:"PROVIDER"`
	DSN      string `env:"DSN"`
	// Schema is the catalog schema to introspect; empty means the default.
	Schema string `env:"SCHEMA"`

	ConnectAttempts int           `env:"CONNECT_ATTEMPTS" envDefault:"5"`
	ConnectBackoff  time.Duration `env:"CONNECT_BACKOFF" envDefault:"500ms"`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Ignore = splitAndTrim(cfg.Ignore)
	cfg.SystemTables = splitAndTrim(cfg.SystemTables)
	return cfg, nil
}

// Validate checks the settings every command needs. Commands that talk to
// the database also call ValidateDB.
func (c Config) Validate() error {
	if c.SchemaFile == "" {
		return errors.New(Prefix + "SCHEMA_FILE is required")
	}
	if c.MigrationsDir == "" {
		return errors.New(Prefix + "MIGRATIONS_DIR is required")
	}
	if c.LedgerTable == "" {
		return errors.New(Prefix + "LEDGER_TABLE is required")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%sLOG_FORMAT must be json or text, got %q", Prefix, c.LogFormat)
	}
	return nil
}

func (c Config) ValidateDB() error {
	if c.DB.DSN == "" {
		return errors.New(Prefix + "DB_DSN is required")
	}
	switch strings.ToLower(c.DB.Provider) {
	case "", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("%sDB_PROVIDER %q is not supported", Prefix, c.DB.Provider)
	}
	if c.DB.ConnectAttempts < 1 {
		return errors.New(Prefix + "DB_CONNECT_ATTEMPTS must be at least 1")
	}
	if c.DB.ConnectBackoff < 0 {
		return errors.New(Prefix + "DB_CONNECT_BACKOFF must not be negative")
	}
	return nil
}

// SystemTableNames lists tables drift detection never reports as manual
// changes: the ledger, the tool's own tables and any configured extras.
func (c Config) SystemTableNames() []string {
	out := []string{c.LedgerTable, "tracked_migrations", "audit_events", "schemasync_versions"}
	return append(out, c.SystemTables...)
}

func splitAndTrim(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
