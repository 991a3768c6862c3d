package storage

import "errors"

var (
	// ErrAlreadyRecorded is returned when a video ID is recorded twice. Callers
	// are expected to check IsDuplicate first, so this signals a bypassed
	// dedup check.
	ErrAlreadyRecorded = errors.New("video already recorded")

	// ErrCorruptCheckpoint is returned when a persisted state file exists but
	// cannot be decoded or is internally inconsistent.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
)

// IsAlreadyRecorded returns true if the error is an ErrAlreadyRecorded error.
func IsAlreadyRecorded(err error) bool {
	return errors.Is(err, ErrAlreadyRecorded)
}

// IsCorruptCheckpoint returns true if the error is an ErrCorruptCheckpoint error.
func IsCorruptCheckpoint(err error) bool {
	return errors.Is(err, ErrCorruptCheckpoint)
}
