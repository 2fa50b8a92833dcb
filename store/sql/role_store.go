package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RoleStore struct {
	db bun.IDB
}

func NewRoleStore(db bun.IDB) (*RoleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RoleStore{db: db}, nil
}

func (s *RoleStore) Get(ctx context.Context, id string) (core.Role, error) {
	if s == nil || s.db == nil {
		return core.Role{}, fmt.Errorf("sqlstore: role store is not configured")
	}
	record := &roleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Role{}, lookupError(err, "role", id)
	}
	return roleToDomain(record), nil
}

func (s *RoleStore) GetByName(ctx context.Context, name string) (core.Role, error) {
	if s == nil || s.db == nil {
		return core.Role{}, fmt.Errorf("sqlstore: role store is not configured")
	}
	return findRoleByName(ctx, s.db, normalizeRoleName(name))
}

// Ensure returns the role named name, creating it on first use.
func (s *RoleStore) Ensure(ctx context.Context, name string) (core.Role, bool, error) {
	if s == nil || s.db == nil {
		return core.Role{}, false, fmt.Errorf("sqlstore: role store is not configured")
	}
	name = normalizeRoleName(name)
	if name == "" {
		return core.Role{}, false, fmt.Errorf("sqlstore: role name is required")
	}
	return ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.Role, error) {
			return findRoleByName(ctx, db, name)
		},
		func(ctx context.Context, tx bun.Tx) (core.Role, error) {
			record := &roleRecord{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return core.Role{}, err
			}
			return roleToDomain(record), nil
		},
	)
}

func findRoleByName(ctx context.Context, db bun.IDB, name string) (core.Role, error) {
	record := &roleRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Role{}, lookupError(err, "role", name)
	}
	return roleToDomain(record), nil
}

func normalizeRoleName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func roleToDomain(record *roleRecord) core.Role {
	if record == nil {
		return core.Role{}
	}
	return core.Role{ID: record.ID, Name: record.Name}
}
