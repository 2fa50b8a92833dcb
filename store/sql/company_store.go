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

const placeholderLegalName = "New Company LLC"

type CompanyStore struct {
	db bun.IDB
}

func NewCompanyStore(db bun.IDB) (*CompanyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CompanyStore{db: db}, nil
}

func (s *CompanyStore) Get(ctx context.Context, id string) (core.Company, error) {
	if s == nil || s.db == nil {
		return core.Company{}, fmt.Errorf("sqlstore: company store is not configured")
	}
	record := &companyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Company{}, lookupError(err, "company", id)
	}
	return companyToDomain(record), nil
}

// EnsureForDomain returns the company bootstrapped for an email domain,
// creating the placeholder company when none exists yet. The unique
// bootstrap_domain column arbitrates concurrent first users of a domain.
func (s *CompanyStore) EnsureForDomain(ctx context.Context, domain string, currencyID string) (core.Company, bool, error) {
	if s == nil || s.db == nil {
		return core.Company{}, false, fmt.Errorf("sqlstore: company store is not configured")
	}
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return core.Company{}, false, fmt.Errorf("sqlstore: company domain is required")
	}
	return ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.Company, error) {
			record := &companyRecord{}
			err := db.NewSelect().
				Model(record).
				Where("?TableAlias.bootstrap_domain = ?", domain).
				Limit(1).
				Scan(ctx)
			if err != nil {
				return core.Company{}, lookupError(err, "company", domain)
			}
			return companyToDomain(record), nil
		},
		func(ctx context.Context, tx bun.Tx) (core.Company, error) {
			now := time.Now().UTC()
			record := &companyRecord{
				ID:              uuid.NewString(),
				DisplayName:     "New Company for " + domain,
				Email:           "default@" + domain,
				LegalName:       placeholderLegalName,
				CurrencyID:      nullableString(currencyID),
				BootstrapDomain: nullableString(domain),
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return core.Company{}, err
			}
			return companyToDomain(record), nil
		},
	)
}

// Delete removes the company; memberships and procurement children cascade.
func (s *CompanyStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: company store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*companyRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

func companyToDomain(record *companyRecord) core.Company {
	if record == nil {
		return core.Company{}
	}
	return core.Company{
		ID:                 record.ID,
		DisplayName:        record.DisplayName,
		Email:              record.Email,
		LegalName:          record.LegalName,
		PhoneNumber:        record.PhoneNumber,
		RegistrationNumber: record.RegistrationNumber,
		VATNumber:          record.VATNumber,
		Address:            record.Address,
		City:               record.City,
		Country:            record.Country,
		Zip:                record.Zip,
		CurrencyID:         derefString(record.CurrencyID),
		BootstrapDomain:    derefString(record.BootstrapDomain),
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}
