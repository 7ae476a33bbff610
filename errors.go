package docdb

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/docbase/internal/aggregate"
	"github.com/calvinalkan/docbase/internal/catalog"
	"github.com/calvinalkan/docbase/internal/index"
	"github.com/calvinalkan/docbase/internal/planner"
	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/storage"
	"github.com/calvinalkan/docbase/internal/txn"
	"github.com/calvinalkan/docbase/internal/update"
)

// Sentinel error kinds, one per spec.md error kind. Internal package errors
// that wrapErr recognizes are wrapped into one of these at the API
// boundary so callers can use errors.Is against this package.
var (
	ErrNotFound           = errors.New("docdb: not found")
	ErrDuplicateKey       = errors.New("docdb: duplicate key")
	ErrTypeMismatch       = errors.New("docdb: type mismatch")
	ErrInvalidQuery       = errors.New("docdb: invalid query")
	ErrInvalidUpdate      = errors.New("docdb: invalid update")
	ErrInvalidProjection  = errors.New("docdb: invalid projection")
	ErrInvalidHint        = errors.New("docdb: invalid hint")
	ErrUnusableHint       = errors.New("docdb: unusable hint")
	ErrUnknownTransaction = errors.New("docdb: unknown transaction")
	ErrDatabaseBusy       = errors.New("docdb: database busy")
	ErrCorruptFormat      = errors.New("docdb: corrupt format")
	ErrVersionMismatch    = errors.New("docdb: version mismatch")
	ErrIoFailure          = errors.New("docdb: io failure")
)

// wrapErr classifies an internal package error into the matching public
// sentinel. An error that matches none of the known internal sentinels is
// returned unchanged.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, catalog.ErrCollectionNotFound),
		errors.Is(err, catalog.ErrIndexNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, index.ErrDuplicateKey):
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case errors.Is(err, update.ErrTypeMismatch):
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	case errors.Is(err, query.ErrInvalidQuery):
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	case errors.Is(err, update.ErrInvalidUpdate):
		return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	case errors.Is(err, planner.ErrInvalidHint):
		return fmt.Errorf("%w: %w", ErrInvalidHint, err)
	case errors.Is(err, planner.ErrUnusableHint):
		return fmt.Errorf("%w: %w", ErrUnusableHint, err)
	case errors.Is(err, txn.ErrUnknownTransaction):
		return fmt.Errorf("%w: %w", ErrUnknownTransaction, err)
	case errors.Is(err, storage.ErrDatabaseBusy):
		return fmt.Errorf("%w: %w", ErrDatabaseBusy, err)
	case errors.Is(err, storage.ErrCorruptFormat):
		return fmt.Errorf("%w: %w", ErrCorruptFormat, err)
	case errors.Is(err, storage.ErrVersionMismatch):
		return fmt.Errorf("%w: %w", ErrVersionMismatch, err)
	case errors.Is(err, storage.ErrIoFailure):
		return fmt.Errorf("%w: %w", ErrIoFailure, err)
	case errors.Is(err, catalog.ErrIndexExists):
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case errors.Is(err, catalog.ErrPrimaryIndexImmutable):
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	case errors.Is(err, aggregate.ErrInvalidProjection):
		return fmt.Errorf("%w: %w", ErrInvalidProjection, err)
	case errors.Is(err, aggregate.ErrInvalidStage):
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	default:
		return err
	}
}
