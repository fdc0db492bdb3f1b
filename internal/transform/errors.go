package transform

import "errors"

var (
	// ErrNotEligible marks an image filtered out by size or suffix. It is not a failure.
	ErrNotEligible = errors.New("not eligible")

	// ErrNotSmaller marks a transform whose output was not smaller than the source.
	ErrNotSmaller = errors.New("output not smaller than original")

	// ErrTargetExists marks a rename whose target name is already taken.
	ErrTargetExists = errors.New("target file already exists")

	// ErrUnsupportedOutput marks an image whose format cannot be re-encoded.
	ErrUnsupportedOutput = errors.New("unsupported output format")

	// ErrDecode wraps decode and I/O failures.
	ErrDecode = errors.New("decode or io error")
)
