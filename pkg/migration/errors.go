package migration

import "errors"

var (
	// ErrAlreadyRun is returned by Run on a Migrator that has already run.
	ErrAlreadyRun = errors.New("migration already run")
	// ErrReadLegacy wraps failures of the legacy store.
	ErrReadLegacy = errors.New("failed to read legacy pending history")
	// ErrPersist wraps failures of the current store.
	ErrPersist = errors.New("failed to save migrated pending history")
	// ErrBuild wraps builder failures for a single record.
	ErrBuild = errors.New("failed to build decoded tx")
	// ErrEmptyBuildResult is reported when the builder returns neither a
	// decoded transaction nor an error.
	ErrEmptyBuildResult = errors.New("builder returned no decoded tx")
	// ErrDuplicateID is reported for a record whose id was already migrated
	// in the same batch.
	ErrDuplicateID = errors.New("duplicate legacy record id")
)
