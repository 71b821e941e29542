package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSnapshot is returned when a delta arrives before any snapshot
	// has established a baseline.
	ErrNoSnapshot = errors.New("client: no snapshot applied yet")

	// ErrOutboundFull is returned by Emit when the outbound queue is full.
	ErrOutboundFull = errors.New("client: outbound queue full")

	// ErrViewNotFound is returned when a derived view name is unknown.
	ErrViewNotFound = errors.New("client: derived view not found")
)

// SequenceGapError reports a delta whose sequence number is not exactly one
// greater than the last applied. The mirror is left untouched; the caller
// should request a resync.
type SequenceGapError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("client: sequence gap: expected seq %d, got %d", e.Expected, e.Got)
}

// IsSequenceGap reports whether err is a SequenceGapError.
func IsSequenceGap(err error) bool {
	var sg *SequenceGapError
	return errors.As(err, &sg)
}
