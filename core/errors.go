package core

import "errors"

var (
	// ErrTransport covers network and remote store failures, including
	// malformed records coming back from the store.
	ErrTransport = errors.New("transport error")

	// ErrOwnershipDenied means the store rejected a mutation or it affected
	// zero rows because the caller does not own the target.
	ErrOwnershipDenied = errors.New("not owned by caller")

	ErrDuplicateCategory = errors.New("category already exists")
	ErrValidation        = errors.New("validation error")

	// ErrOrphanedResource marks an uploaded object whose record insert failed.
	// It is logged, never returned to users.
	ErrOrphanedResource = errors.New("orphaned resource")

	ErrPersistence      = errors.New("persistence error")
	ErrNotFound         = errors.New("not found")
	ErrGenerationFailed = errors.New("generation failed")
)
