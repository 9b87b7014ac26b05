package index

import "fmt"

// FieldError reports a field that could not be indexed. The rest of the
// document is indexed regardless.
type FieldError struct {
	DocID string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s of document %q: %v", e.Field, e.DocID, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
