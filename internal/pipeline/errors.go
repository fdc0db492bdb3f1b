package pipeline

import "errors"

var (
	// ErrConsistency indicates images and references disagree after rewriting.
	ErrConsistency = errors.New("pipeline: consistency check failed")

	// ErrReferenceUpdate indicates at least one document could not be rewritten.
	ErrReferenceUpdate = errors.New("pipeline: reference update failed")

	// ErrCleanup indicates a superseded image could not be deleted.
	ErrCleanup = errors.New("pipeline: cleanup failed")

	// ErrPackage indicates the new archive could not be written.
	ErrPackage = errors.New("pipeline: packaging failed")
)
