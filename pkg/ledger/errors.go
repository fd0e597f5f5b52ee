package ledger

import (
	"errors"
	"fmt"
)

// ErrInvalidPageToken reports a malformed list pagination token.
var ErrInvalidPageToken = errors.New("invalid page token")

// StateError reports an operation the current status does not allow, such
// as completing an execution that already failed, or beginning one against
// a version that is not active.
type StateError struct {
	Op     string
	Detail string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Detail)
}

// NotFoundError reports an unknown or deleted execution.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution %s not found", e.ID)
}
