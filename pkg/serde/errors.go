package serde

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSyncable is returned when a format that writes sync marks is
	// given an output stream without Sync support.
	ErrNotSyncable = errors.New("output stream does not support sync")
	// ErrInvalidMark is returned when a reader cannot locate a mark.
	ErrInvalidMark = errors.New("invalid mark")
	// ErrCorrupt is returned when stored data does not decode.
	ErrCorrupt = errors.New("corrupt data")
	// ErrMagicMismatch is returned when a file does not start with the
	// expected magic bytes.
	ErrMagicMismatch = errors.New("magic mismatch")
	// ErrVersionMismatch is returned for an unsupported format version.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrClosed is returned when a closed writer or reader is used again.
	ErrClosed = errors.New("use of closed serde stream")
)

// OpenError reports a failure to open a destination or location.
type OpenError struct {
	Location string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Location, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
