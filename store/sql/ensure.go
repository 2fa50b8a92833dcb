package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

// ensureRow implements lookup, insert, re-lookup. The insert runs inside a
// savepoint (a nested RunInTx on an open transaction) so a uniqueness
// violation raised by a concurrent winner leaves the outer transaction usable
// for the re-lookup. created reports whether this call inserted the row.
func ensureRow[T any](
	ctx context.Context,
	db bun.IDB,
	lookup func(ctx context.Context, db bun.IDB) (T, error),
	insert func(ctx context.Context, tx bun.Tx) (T, error),
) (T, bool, error) {
	existing, err := lookup(ctx, db)
	if err == nil {
		return existing, false, nil
	}
	if !core.IsNotFound(err) {
		var zero T
		return zero, false, err
	}

	var inserted T
	insertErr := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := insert(ctx, tx)
		if err != nil {
			return err
		}
		inserted = row
		return nil
	})
	if insertErr == nil {
		return inserted, true, nil
	}
	if !isUniqueViolation(insertErr) {
		var zero T
		return zero, false, storageError(insertErr)
	}

	winner, err := lookup(ctx, db)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return winner, false, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && core.IsUniqueViolationMessage(err.Error())
}

func isNoRows(err error) bool {
	return err != nil && errors.Is(err, sql.ErrNoRows)
}

// storageError tags driver errors the retry executor should repeat. A unique
// violation that reaches it is a conflict with another row; the ensure paths
// settle same-key races before this point.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if core.IsTransientStorage(err) || core.IsNotFound(err) || core.IsDuplicateSubscription(err) {
		return err
	}
	if isUniqueViolation(err) {
		return core.Conflict("sqlstore: row conflicts with an existing record", map[string]any{"cause": err.Error()})
	}
	if core.IsTransientStorageMessage(err.Error()) {
		return core.TransientStorage(err)
	}
	return err
}

func lookupError(err error, entity string, id string) error {
	if isNoRows(err) {
		return core.NotFound(entity, id)
	}
	return storageError(err)
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
