package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

type UserStore struct {
	db bun.IDB
}

func NewUserStore(db bun.IDB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &UserStore{db: db}, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.User{}, lookupError(err, "user", id)
	}
	return userToDomain(record), nil
}

// likeEscaper escapes LIKE wildcards for an ESCAPE '!' clause.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// FindByEmailDomain returns the earliest user whose email ends with @domain and
// who has a home company.
func (s *UserStore) FindByEmailDomain(ctx context.Context, domain string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return core.User{}, fmt.Errorf("sqlstore: email domain is required")
	}
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) LIKE ? ESCAPE '!'", "%@"+likeEscaper.Replace(domain)).
		Where("?TableAlias.default_company_id IS NOT NULL").
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.User{}, lookupError(err, "user", "@"+domain)
	}
	return userToDomain(record), nil
}

// Create inserts the user with company_id and default_company_id both set to
// the bootstrap company.
func (s *UserStore) Create(ctx context.Context, in core.CreateUserInput) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return core.User{}, fmt.Errorf("sqlstore: user id is required")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return core.User{}, fmt.Errorf("sqlstore: user email is required")
	}
	now := time.Now().UTC()
	record := &userRecord{
		ID:               id,
		DisplayName:      strings.TrimSpace(in.DisplayName),
		Email:            email,
		RoleID:           nullableString(in.RoleID),
		CompanyID:        nullableString(in.CompanyID),
		DefaultCompanyID: nullableString(in.CompanyID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.User{}, userWriteError(err, id, email)
	}
	return userToDomain(record), nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, id string, displayName string, email string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("display_name = ?", strings.TrimSpace(displayName)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	if email = strings.TrimSpace(email); email != "" {
		query = query.Set("email = ?", email)
	}
	if _, err := query.Exec(ctx); err != nil {
		return userWriteError(err, id, email)
	}
	return nil
}

func (s *UserStore) SetCompany(ctx context.Context, id string, companyID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("company_id = ?", nullableString(companyID)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

func (s *UserStore) SetPaid(ctx context.Context, id string, paid bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("paid = ?", paid).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*userRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

func userToDomain(record *userRecord) core.User {
	if record == nil {
		return core.User{}
	}
	return core.User{
		ID:               record.ID,
		DisplayName:      record.DisplayName,
		Email:            record.Email,
		RoleID:           derefString(record.RoleID),
		CompanyID:        derefString(record.CompanyID),
		DefaultCompanyID: derefString(record.DefaultCompanyID),
		Paid:             record.Paid,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
}

// userWriteError separates a concurrent create of the same user, which the
// next attempt resolves by finding the winner, from an email owned by another
// user, which no retry fixes.
func userWriteError(err error, id string, email string) error {
	if !isUniqueViolation(err) {
		return storageError(err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "email") {
		return core.Conflict("sqlstore: email belongs to another user", map[string]any{"user_id": id, "email": email})
	}
	return core.TransientStorage(err)
}
