package scheduler

import "errors"

var (
	// ErrNoTimer means a false-alarm report named an event with neither an
	// armed timer nor a recently handled occurrence.
	ErrNoTimer = errors.New("no timer armed for event")

	// ErrPastOccurrence means a manual correction named a time that is not
	// in the future.
	ErrPastOccurrence = errors.New("occurrence is not in the future")
)
