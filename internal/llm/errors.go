package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a backend answers with no choices.
var ErrEmptyResponse = errors.New("empty response from model backend")

// BackendError reports a failed or timed-out call to the model backend.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("model backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err wraps a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
