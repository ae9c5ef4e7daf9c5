// Package migrations holds the SQL for schemasync's own tables
// (tracked_migrations, audit_events). Files are applied in version order by
// internal/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var sqlFiles embed.FS

// FS returns the embedded self-migrations, named <version>_<name>.sql.
func FS() fs.FS {
	return sqlFiles
}
