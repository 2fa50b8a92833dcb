package reconciler

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the reconciler schema for postgres at the root and the
// sqlite variant under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
