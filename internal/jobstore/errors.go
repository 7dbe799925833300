package jobstore

import "errors"

// ErrNotFound is returned by GetJob when no job exists with the given id.
var ErrNotFound = errors.New("job not found")

// ErrStateConflict is returned when an operation is attempted from a
// status that doesn't permit it (e.g. RetryJob on a non-failed job).
var ErrStateConflict = errors.New("job state conflict")

// ErrDuplicate is returned by callers (not the store itself — see
// IsDuplicate) when an Enqueue would create a second non-failed job for
// the same library book.
var ErrDuplicate = errors.New("duplicate job")
