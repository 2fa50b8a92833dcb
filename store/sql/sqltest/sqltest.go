// Package sqltest opens migrated in-memory sqlite databases for tests.
package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync/atomic"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var sequence atomic.Int64

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool {
	return false
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-reconciler-tests"
}

// NewClient returns a persistence client over a private shared-cache memory
// database with every migration applied. The pool holds one connection, so
// code under test must not reach the root database from inside a
// transaction.
func NewClient(t testing.TB) *persistence.Client {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:reconciler-test-%d-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
		sequence.Add(1),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(persistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx,
		migrations.ForDialect(migrations.DialectSQLite, func(fsys fs.FS) {
			client.RegisterSQLMigrations(fsys)
		}),
		migrations.WithValidationTargets(migrations.DialectSQLite),
	)
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
