package scron

import "errors"

var (
	// ErrOutOfMemory is returned when the dynamic task table cannot grow.
	ErrOutOfMemory = errors.New("scron: out of memory")

	// ErrIndexOutOfRange is returned for a registry index outside [0, TaskCount).
	ErrIndexOutOfRange = errors.New("scron: index out of range")

	// ErrNotFound is returned when no task has the requested name.
	ErrNotFound = errors.New("scron: task not found")

	// ErrCorrupt is returned by a HistoryStore when a stream holds data but no
	// complete record. Load treats it as "never run".
	ErrCorrupt = errors.New("scron: history stream corrupt")

	// ErrStaticTask is returned when trying to remove a compiled-in task.
	ErrStaticTask = errors.New("scron: static tasks cannot be removed")

	ErrInvalidTask         = errors.New("scron: invalid task")
	ErrInvalidSchedule     = errors.New("scron: invalid schedule")
	ErrUnsupportedSchedule = errors.New("scron: unsupported schedule expression")
)
