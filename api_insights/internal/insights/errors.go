package insights

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyUserID is returned when a build is requested without a user.
var ErrEmptyUserID = errors.New("user id is required")

// NoCompetitorsError means the user tracks no competitors. It is a
// configuration problem the user can fix and is never retried.
type NoCompetitorsError struct {
	UserID string
}

func (e *NoCompetitorsError) Error() string {
	return fmt.Sprintf("user %s has no tracked competitors", e.UserID)
}

// PersistenceReadError wraps a failed competitor or post read.
type PersistenceReadError struct {
	Op  string
	Err error
}

func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Op, e.Err)
}

func (e *PersistenceReadError) Unwrap() error { return e.Err }

// PersistenceWriteError wraps a failed snapshot insert. Nothing was stored.
type PersistenceWriteError struct {
	Err error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("insert snapshot: %v", e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }

// IsUserError reports whether err should be shown to the user as actionable.
func IsUserError(err error) bool {
	var noCompetitors *NoCompetitorsError
	return errors.As(err, &noCompetitors) || errors.Is(err, ErrEmptyUserID)
}

// IsRetryable reports whether a later attempt might succeed.
func IsRetryable(err error) bool {
	var readErr *PersistenceReadError
	if !errors.As(err, &readErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
