// Package batch adapts serde readers and writers to chunk-oriented batch
// steps.
//
// A step drives an ItemReader and an ItemWriter in chunks of CommitInterval
// items. After every chunk it asks both streams to record their restart
// state in the ExecutionContext and saves the context to a Repository. A
// failed step keeps its last committed context, so running it again resumes
// where the last chunk committed:
//
//   - MarkReader saves the last sync mark seen and the number of items read
//     since, then on restart jumps to that mark and replays the tail.
//   - RotatingWriter saves the index of the next destination.
//   - MultiResourceReader saves the index of the current resource along
//     with the state of its MarkReader.
package batch

import (
	"context"
	"errors"
)

var (
	// ErrMissingCollaborator is returned by constructors when a required
	// dependency is nil or empty.
	ErrMissingCollaborator = errors.New("missing required collaborator")
	// ErrNotOpen is returned when a stream is read or written before Open.
	ErrNotOpen = errors.New("stream is not open")
	// ErrNotRestartable is returned when a stream cannot resume from the
	// saved state.
	ErrNotRestartable = errors.New("stream cannot resume from saved state")
)

// ItemStream is the lifecycle of a stream inside a step.
type ItemStream interface {
	// Open restores state from ec, if any.
	Open(ctx context.Context, ec *ExecutionContext) error
	// Update records the state to restart from in ec.
	Update(ec *ExecutionContext) error
	Close() error
}

// ItemReader reads one item at a time. io.EOF marks the end of the input.
type ItemReader[T any] interface {
	Read(ctx context.Context) (T, error)
}

// ItemWriter writes one chunk of items.
type ItemWriter[T any] interface {
	Write(ctx context.Context, items []T) error
}

// StreamReader is a restartable ItemReader.
type StreamReader[T any] interface {
	ItemStream
	ItemReader[T]
}

// StreamWriter is a restartable ItemWriter.
type StreamWriter[T any] interface {
	ItemStream
	ItemWriter[T]
}
