package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrValidation marks record-level input problems. Retrying will not help
	// until the source data changes.
	ErrValidation = errors.New("validation failed")

	// ErrStructural marks failures of the unit of work itself (connection loss,
	// deadlock, aborted transaction). The whole batch must be rolled back.
	ErrStructural = errors.New("structural failure")

	// ErrDuplicateKey is a unique-constraint violation, e.g. two consumers
	// inserting the same dimension natural key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrCollaborator marks failures of an external collaborator such as the
	// AI copywriter (transport errors, timeouts, malformed replies).
	ErrCollaborator = errors.New("collaborator failure")

	ErrUnknownMessage = errors.New("unknown message type")
)

// IsStructural reports whether err must abort the surrounding batch.
func IsStructural(err error) bool {
	return errors.Is(err, ErrStructural) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether redelivering the work that produced err is pointless.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrUnknownMessage)
}
