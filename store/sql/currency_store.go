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

type CurrencyStore struct {
	db bun.IDB
}

func NewCurrencyStore(db bun.IDB) (*CurrencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CurrencyStore{db: db}, nil
}

func (s *CurrencyStore) GetByCode(ctx context.Context, code string) (core.Currency, error) {
	if s == nil || s.db == nil {
		return core.Currency{}, fmt.Errorf("sqlstore: currency store is not configured")
	}
	return findCurrencyByCode(ctx, s.db, normalizeCurrencyCode(code))
}

func (s *CurrencyStore) Ensure(ctx context.Context, code string) (core.Currency, bool, error) {
	if s == nil || s.db == nil {
		return core.Currency{}, false, fmt.Errorf("sqlstore: currency store is not configured")
	}
	code = normalizeCurrencyCode(code)
	if code == "" {
		return core.Currency{}, false, fmt.Errorf("sqlstore: currency code is required")
	}
	return ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.Currency, error) {
			return findCurrencyByCode(ctx, db, code)
		},
		func(ctx context.Context, tx bun.Tx) (core.Currency, error) {
			record := &currencyRecord{ID: uuid.NewString(), Code: code, CreatedAt: time.Now().UTC()}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return core.Currency{}, err
			}
			return core.Currency{ID: record.ID, Code: record.Code}, nil
		},
	)
}

func findCurrencyByCode(ctx context.Context, db bun.IDB, code string) (core.Currency, error) {
	record := &currencyRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Currency{}, lookupError(err, "currency", code)
	}
	return core.Currency{ID: record.ID, Code: record.Code}, nil
}

func normalizeCurrencyCode(code string) string {
	return strings.TrimSpace(strings.ToUpper(code))
}
