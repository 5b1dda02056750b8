package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// natural key
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrReferenceNotFound is returned when a row references a parent that
	// does not exist (e.g. a grant for an unknown client)
	ErrReferenceNotFound = errors.New("referenced row not found")

	// ErrUnavailable is returned when the backing store is busy, locked,
	// unreachable or did not answer in time. Callers may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// classify maps driver errors onto the store sentinels, keeping the original
// error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrReferenceNotFound, err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return err
}
