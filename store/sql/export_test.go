package sqlstore

import (
	"context"

	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

// Test-only exports for external test packages that must import sqltest,
// which cannot be imported from package sqlstore without an import cycle.

type RoleRecord = roleRecord

func EnsureRow[T any](
	ctx context.Context,
	db bun.IDB,
	lookup func(ctx context.Context, db bun.IDB) (T, error),
	insert func(ctx context.Context, tx bun.Tx) (T, error),
) (T, bool, error) {
	return ensureRow(ctx, db, lookup, insert)
}

func FindRoleByName(ctx context.Context, db bun.IDB, name string) (core.Role, error) {
	return findRoleByName(ctx, db, name)
}

func RoleToDomain(record *RoleRecord) core.Role {
	return roleToDomain(record)
}
