// Package clock provides the wall-clock collaborator the scheduler core
// reasons about time through. Every component that needs "now" takes a
// Clock instead of calling time.Now directly, so tests can drive time
// deterministically.
package clock

import "time"

// Clock returns the current instant in UTC.
type Clock interface {
	NowUTC() time.Time
}

type systemClock struct{}

// System returns the real wall clock, reporting instants in UTC.
func System() Clock {
	return systemClock{}
}

func (systemClock) NowUTC() time.Time {
	return time.Now().UTC()
}
