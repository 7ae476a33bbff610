package storage

import "errors"

// Sentinel errors for the storage engine, matched with errors.Is at call
// sites and wrapped into the docdb package's own error kinds.
var (
	ErrIoFailure     = errors.New("storage: io failure")
	ErrCorruptFormat = errors.New("storage: corrupt format")
	ErrVersionMismatch = errors.New("storage: version mismatch")
	ErrDatabaseBusy  = errors.New("storage: database busy")
)
