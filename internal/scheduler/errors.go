package scheduler

import (
	"errors"
	"fmt"
)

var ErrUnknownTask = errors.New("no task with that key")

// DuplicateKeyError is returned when queueing a key that is already
// scheduled. The queue is left unchanged.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("task %q is already scheduled", e.Key)
}
