package scheduler

import (
	"errors"
	"fmt"
)

// ErrInvalidName is returned by Schedule when name is empty or whitespace
// after trimming.
var ErrInvalidName = errors.New("scheduler: task name must be a non-empty, non-whitespace string")

// ErrDuplicateTask is returned by Schedule when a task with this name
// already has a bound callback.
var ErrDuplicateTask = errors.New("scheduler: a task with this name is already scheduled")

// FrequencyError is returned by Schedule when a cron expression's minimum
// inter-firing interval is shorter than the poll interval.
type FrequencyError struct {
	TaskMs int64
	PollMs int64
}

func (e FrequencyError) Error() string {
	return fmt.Sprintf("scheduler: task fires as often as every %dms, faster than the %dms poll interval", e.TaskMs, e.PollMs)
}
