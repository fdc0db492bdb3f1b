package archive

import "errors"

var (
	// ErrMissingMimetype indicates the working directory has no mimetype file.
	ErrMissingMimetype = errors.New("archive: missing mimetype")

	// ErrUnsafePath indicates an entry that would escape the extraction root.
	ErrUnsafePath = errors.New("archive: unsafe entry path")

	// ErrEntryTooLarge indicates an entry larger than the decompression limit.
	ErrEntryTooLarge = errors.New("archive: entry too large")
)
