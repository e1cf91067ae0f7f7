package buffer

import "errors"

// Error taxonomy surfaced at the engine boundary. Callers test with
// errors.Is; most errors are returned wrapped with segment and buffer
// context.
var (
	// ErrInvalidArgument reports a malformed argument such as an
	// invalid sequence number. The engine state is unchanged.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSegmentOutOfRange reports a segment id outside the pool.
	ErrSegmentOutOfRange = errors.New("segment id out of range")

	// ErrInvalidOperation reports a lifecycle operation in the wrong
	// state, e.g. submitting a free or standby segment.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrCorruption reports a failed control element validation. The
	// affected segment is discarded; the buffer remains usable.
	ErrCorruption = errors.New("control element corrupted")

	// ErrOperationInProgress reports pool exhaustion after the retry
	// budget. The request may be retried once segments are freed.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrBackingStore reports that the backing memory could not be
	// committed when the buffer was created.
	ErrBackingStore = errors.New("backing store failure")
)
