package lexgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/index"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/replica"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

var (
	// ErrClosed is returned when the collection has been closed.
	ErrClosed = errors.New("lexgo: collection closed")

	// ErrReadOnly is returned when a write is attempted on a read-only collection.
	ErrReadOnly = errors.New("lexgo: collection is read-only")

	// ErrBusy is returned when another process holds a conflicting lock.
	ErrBusy = errors.New("lexgo: collection busy")

	// ErrCorrupt is returned when a segment or manifest failed validation.
	ErrCorrupt = errors.New("lexgo: corrupt data")

	// ErrFatal is returned when the manifest could not be replaced and the
	// previous generation could not be restored either.
	ErrFatal = errors.New("lexgo: fatal storage error")

	// ErrNotFound is returned when an export or blob does not exist.
	ErrNotFound = errors.New("lexgo: not found")

	// ErrUnknownField is returned when a field weight names an unknown field.
	ErrUnknownField = errors.New("lexgo: unknown field")

	// ErrMemoryLimit is returned when indexing buffers exceed the memory limit.
	ErrMemoryLimit = errors.New("lexgo: memory limit exceeded")

	// ErrInvalidConfig is returned for configuration values that cannot be applied.
	ErrInvalidConfig = errors.New("lexgo: invalid configuration")
)

// QueryError reports a query that cannot be run: malformed text, an
// unsortable sort field or a window above the cap. Status carries the code
// also set on the Response.
//
// The original underlying error can be accessed via errors.Unwrap.
type QueryError struct {
	Status  int
	Query   string
	Message string
	cause   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("lexgo: query %q rejected (%d): %s", e.Query, e.Status, e.Message)
}

func (e *QueryError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var qe *query.Error
	if errors.As(err, &qe) {
		return &QueryError{Status: qe.Status, Query: qe.Query, Message: qe.Msg, cause: err}
	}

	switch {
	case errors.Is(err, engine.ErrClosed), errors.Is(err, segment.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, lock.ErrBusy):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, manifest.ErrFatal):
		return fmt.Errorf("%w: %w", ErrFatal, err)
	case errors.Is(err, segment.ErrCorrupt), errors.Is(err, manifest.ErrCorrupt), errors.Is(err, replica.ErrChecksum):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, replica.ErrNoExport), errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, index.ErrUnknownField):
		return fmt.Errorf("%w: %w", ErrUnknownField, err)
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return fmt.Errorf("%w: %w", ErrMemoryLimit, err)
	}
	return err
}
