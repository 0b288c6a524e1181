package memory

import (
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

// Error implements repositories.RepositoryError for the in-memory stores.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return e.op + ": " + e.msg
	}
	return e.msg
}

// IsNotFound reports whether the record was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the write collided with existing state.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false; memory never goes away.
func (e *Error) IsUnavailable() bool { return false }

func errNotFound(op, format string, args ...any) *Error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func errConflict(op, format string, args ...any) *Error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
