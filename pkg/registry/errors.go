package registry

import (
	"errors"
	"fmt"
)

// ErrConflict is returned when a promotion loses to a concurrent lifecycle
// change. Callers may retry with backoff.
var ErrConflict = errors.New("promotion conflict: a concurrent lifecycle change won")

// NotFoundError reports an unknown entity reference.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
