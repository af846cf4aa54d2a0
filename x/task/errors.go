package task

import "errors"

var (
	// ErrRecordNotFound is returned by RecordStore.Get when no outcome exists.
	ErrRecordNotFound = errors.New("task record not found")

	// ErrAlreadyCompleted is returned by RecordStore.Put for a second outcome.
	ErrAlreadyCompleted = errors.New("task already completed")

	// ErrInvalidTask is returned for an empty task name, an unencodable payload
	// or a record that is not in a terminal state.
	ErrInvalidTask = errors.New("invalid task")
)
