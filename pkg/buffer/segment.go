package buffer

import (
	"sync"

	"github.com/gaasedelen/simutrace/pkg/types"
)

type segmentFlags uint32

const (
	sgfFree segmentFlags = 0 // not in use, holds no data

	sgfInUse       segmentFlags = 1 << 0 // held by a caller or cached
	sgfReadOnly    segmentFlags = 1 << 1 // must not be written to
	sgfScratch     segmentFlags = 1 << 2 // not bound to a stream, never cached
	sgfCacheable   segmentFlags = 1 << 3 // eligible for standby caching on free
	sgfLowPriority segmentFlags = 1 << 4 // may be reused early (random access)
	sgfPrefetch    segmentFlags = 1 << 5 // keep at standby head for one round
)

func (f segmentFlags) has(flag segmentFlags) bool {
	return f&flag != 0
}

// segment is the descriptor of one pool slot. next links the free list
// (singly) and the standby list (doubly, with prev). The mutex guards
// the trust-boundary transitions: submit, read-in, free and purge.
type segment struct {
	lock sync.Mutex

	next *segment
	prev *segment

	id    types.SegmentID
	flags segmentFlags

	submitted bool

	// Owner identity, kept outside the shared region so a client
	// cannot forge it. Nil stream marks a scratch segment.
	stream         Stream
	sequenceNumber types.SequenceNumber

	// Private copy of the control element. Used for read-only
	// segments and for written segments after submit; the copy in the
	// shared region may be modified by the client at any time.
	control types.SegmentControlElement
}

// Stream is the identity surface the engine needs from the server's
// stream layer.
type Stream interface {
	ID() types.StreamID
	StoreID() types.StoreID
	Type() types.StreamTypeDescriptor
	Encoder() StreamEncoder
}

// StreamEncoder persists and rehydrates segment contents for one
// stream. Write and Read may complete asynchronously by returning
// completed=false and finalizing at the stream later; the segment id
// stays valid until the encoder calls back.
type StreamEncoder interface {
	// Write persists the submitted segment and returns its storage
	// location, or nil if the encoder discarded the data.
	Write(buf *StreamBuffer, id types.SegmentID) (completed bool, location *types.StorageLocation, err error)

	// Read fills the segment's payload from the given location.
	Read(buf *StreamBuffer, id types.SegmentID, flags types.StreamAccessFlags,
		location *types.StorageLocation, prefetch bool) (completed bool, err error)

	// Drop records a hole for a submitted segment with no entries.
	Drop(buf *StreamBuffer, id types.SegmentID) error

	// NotifySegmentCacheClosed signals that the standby-cached copy of
	// the segment is going away so the encoder can release indices.
	NotifySegmentCacheClosed(sqn types.SequenceNumber)
}
