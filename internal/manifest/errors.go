package manifest

import "errors"

var (
	// ErrNotFound is returned when neither the manifest nor its backup exist.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when no readable manifest generation exists.
	ErrCorrupt = errors.New("manifest corrupt")

	// ErrFatal wraps a failed replace. The previous generation has been
	// restored and the in-memory state must be discarded.
	ErrFatal = errors.New("manifest replace failed")

	// ErrFieldConflict is returned when a field is redeclared with another type.
	ErrFieldConflict = errors.New("field declared with a different type")

	// ErrTooManyFields is returned when the ordinal space is exhausted.
	ErrTooManyFields = errors.New("too many fields")
)
