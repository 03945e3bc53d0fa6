package serde

import (
	"context"
	"fmt"
)

// NoMark is the mark position meaning "no mark seen" or "no marks at all".
const NoMark int64 = -1

// Marks exposes synchronization marks of a reader.
//
// LastMark is non-decreasing while reading forward. MarkAtRecordStart reports
// whether the most recently crossed mark sits before the record just read
// (true) or after it (false).
type Marks interface {
	// Supported is false for the NoMarks variant.
	Supported() bool
	LastMark() int64
	// GotoMark positions the reader so the next Read returns the first
	// record after mark. Unknown positions return ErrInvalidMark.
	GotoMark(ctx context.Context, mark int64) error
	MarkAtRecordStart() bool
}

type noMarks struct{}

// NoMarks returns the variant for readers without real marks. LastMark is
// always NoMark and GotoMark accepts only NoMark, so a restarted reader
// replays from the start of the data.
func NoMarks() Marks {
	return noMarks{}
}

func (noMarks) Supported() bool         { return false }
func (noMarks) LastMark() int64         { return NoMark }
func (noMarks) MarkAtRecordStart() bool { return true }

func (noMarks) GotoMark(_ context.Context, mark int64) error {
	if mark != NoMark {
		return fmt.Errorf("%w: %d on a reader without marks", ErrInvalidMark, mark)
	}
	return nil
}
