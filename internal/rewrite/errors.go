package rewrite

import "errors"

var (
	// ErrParse indicates a document could not be read or tokenized.
	ErrParse = errors.New("rewrite: parse failed")

	// ErrWrite indicates a rewritten document could not be saved.
	ErrWrite = errors.New("rewrite: write failed")

	// ErrNoPackage indicates no OPF package document was found.
	ErrNoPackage = errors.New("rewrite: no package document")
)
