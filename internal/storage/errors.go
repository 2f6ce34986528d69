package storage

import (
	"errors"
	"fmt"
)

// Error kinds returned by Consumer. Each returned error wraps one of these
// and the underlying cause, so both match with errors.Is.
var (
	ErrDestinationUnavailable = errors.New("destination unavailable")
	ErrWrite                  = errors.New("bulk write rejected")
	ErrCommit                 = errors.New("commit failed")
	ErrRollback               = errors.New("rollback failed")

	ErrConsumerState  = errors.New("consumer: invalid state")
	ErrConsumerClosed = fmt.Errorf("%w: already closed", ErrConsumerState)
)
