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

type MembershipStore struct {
	db    bun.IDB
	roles *RoleStore
}

func NewMembershipStore(db bun.IDB) (*MembershipStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	roles, err := NewRoleStore(db)
	if err != nil {
		return nil, err
	}
	return &MembershipStore{db: db, roles: roles}, nil
}

func (s *MembershipStore) Get(ctx context.Context, userID string, companyID string) (core.CompanyUser, error) {
	if s == nil || s.db == nil {
		return core.CompanyUser{}, fmt.Errorf("sqlstore: membership store is not configured")
	}
	return findMembership(ctx, s.db, strings.TrimSpace(userID), strings.TrimSpace(companyID))
}

// Ensure links user and company under roleName. An existing link keeps its
// role unless overrideRole is set.
func (s *MembershipStore) Ensure(
	ctx context.Context,
	userID string,
	companyID string,
	roleName string,
	overrideRole bool,
) (core.CompanyUser, bool, error) {
	if s == nil || s.db == nil || s.roles == nil {
		return core.CompanyUser{}, false, fmt.Errorf("sqlstore: membership store is not configured")
	}
	userID = strings.TrimSpace(userID)
	companyID = strings.TrimSpace(companyID)
	if userID == "" || companyID == "" {
		return core.CompanyUser{}, false, fmt.Errorf("sqlstore: user id and company id are required")
	}

	role, _, err := s.roles.Ensure(ctx, roleName)
	if err != nil {
		return core.CompanyUser{}, false, err
	}

	link, created, err := ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.CompanyUser, error) {
			return findMembership(ctx, db, userID, companyID)
		},
		func(ctx context.Context, tx bun.Tx) (core.CompanyUser, error) {
			now := time.Now().UTC()
			record := &companyUserRecord{
				ID:        uuid.NewString(),
				UserID:    userID,
				CompanyID: companyID,
				RoleID:    role.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return core.CompanyUser{}, err
			}
			return membershipToDomain(record), nil
		},
	)
	if err != nil {
		return core.CompanyUser{}, false, err
	}
	if created || !overrideRole || link.RoleID == role.ID {
		return link, created, nil
	}

	now := time.Now().UTC()
	if _, err := s.db.NewUpdate().
		Model((*companyUserRecord)(nil)).
		Set("role_id = ?", role.ID).
		Set("updated_at = ?", now).
		Where("id = ?", link.ID).
		Exec(ctx); err != nil {
		return core.CompanyUser{}, false, storageError(err)
	}
	link.RoleID = role.ID
	link.UpdatedAt = now
	return link, false, nil
}

func findMembership(ctx context.Context, db bun.IDB, userID string, companyID string) (core.CompanyUser, error) {
	record := &companyUserRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.company_id = ?", companyID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.CompanyUser{}, lookupError(err, "company_user", userID+"/"+companyID)
	}
	return membershipToDomain(record), nil
}

func membershipToDomain(record *companyUserRecord) core.CompanyUser {
	if record == nil {
		return core.CompanyUser{}
	}
	return core.CompanyUser{
		ID:        record.ID,
		UserID:    record.UserID,
		CompanyID: record.CompanyID,
		RoleID:    record.RoleID,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
