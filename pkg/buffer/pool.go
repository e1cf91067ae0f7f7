package buffer

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

// Shared-memory layout of one buffer: numSegments payloads of
// segmentSize bytes, followed by numSegments control lines. Each
// control line holds the 64-byte control element and a fence of the
// same size that must never be written; the fence catches overruns of
// the control element in sanity-checking runs.
const controlStride = 2 * types.ControlElementSize

const (
	deadFill  byte = 0xDD // segment is free, nobody may write
	clearFill byte = 0xCD // segment handed out, not yet written
	fenceFill byte = 0xFD // guard area behind the control element
)

type memRegion interface {
	bytes() []byte
	close() error
}

type heapRegion struct {
	data []byte
}

func (r *heapRegion) bytes() []byte { return r.data }
func (r *heapRegion) close() error  { return nil }

// StreamBuffer owns a fixed pool of equally sized segments backing all
// live trace data of a store. Writers obtain fresh segments, readers
// re-open persisted ones; closed read-only segments park on an LRU
// standby list until the pool runs dry.
type StreamBuffer struct {
	id          types.BufferID
	segmentSize int
	numSegments int

	mem  memRegion
	data []byte

	// Never written to shared memory; mixed into every control
	// element cookie.
	cookie uint64

	enableCache bool
	sanity      bool
	retryCount  int
	retrySleep  time.Duration

	segments []segment

	// Free list: lock-free LIFO through segment.next. A segment
	// cannot re-enter the list before it has been popped, which rules
	// out ABA on the head CAS.
	freeHead atomic.Pointer[segment]

	// Standby cache: circular doubly-linked LRU plus index, all
	// mutations serialized by standbyMu. Lock order: a segment mutex
	// may be held when taking standbyMu, never the reverse.
	standbyMu    sync.Mutex
	standbyHead  *segment
	standbyIndex map[standbyKey]*segment

	closeOnce sync.Once
	closeErr  error
}

type standbyKey struct {
	store types.StoreID
	link  types.StreamSegmentLink
}

// New creates a stream buffer with numSegments segments of segmentSize
// bytes each. With shared=true the backing is a shared-memory region
// that client processes can map; pages are committed during
// construction so access cannot fault later.
func New(cfg *config.Config, id types.BufferID, segmentSize, numSegments int, shared bool) (*StreamBuffer, error) {
	if id == types.InvalidBufferID {
		return nil, fmt.Errorf("%w: buffer id", ErrInvalidArgument)
	}
	if segmentSize < types.ControlElementSize || numSegments <= 0 {
		return nil, fmt.Errorf("%w: segmentSize %d, numSegments %d",
			ErrInvalidArgument, segmentSize, numSegments)
	}

	size := numSegments * (segmentSize + controlStride)

	var mem memRegion
	if shared {
		name := fmt.Sprintf("simutrace.buffer.%s", uuid.NewString())
		region, err := newSharedRegion(name, size)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to allocate %d MiB of memory for "+
				"stream buffer <id: %d>: %v. Increase the system's memory limits or "+
				"reduce the stream buffer size (caution: this will also reduce the "+
				"number of streams that can be accessed by the client at the same "+
				"time). See server.memmgmt.poolSize and server.memmgmt.segmentSize.",
				ErrBackingStore, size>>20, id, err)
		}
		mem = region
	} else {
		mem = &heapRegion{data: make([]byte, size)}
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		mem.close()
		return nil, fmt.Errorf("cookie seed: %w", err)
	}

	b := &StreamBuffer{
		id:           id,
		segmentSize:  segmentSize,
		numSegments:  numSegments,
		mem:          mem,
		data:         mem.bytes(),
		cookie:       binary.LittleEndian.Uint64(seed[:]),
		enableCache:  !cfg.DisableCache,
		sanity:       cfg.SanityChecks,
		retryCount:   cfg.RetryCount,
		retrySleep:   time.Duration(cfg.RetrySleepMS) * time.Millisecond,
		segments:     make([]segment, numSegments),
		standbyIndex: make(map[standbyKey]*segment),
	}

	b.initializeSegments()
	return b, nil
}

// initializeSegments threads all descriptors into the free list in
// index order. Segments are taken from the front and returned to the
// front, so the working set stays small under low to medium load.
func (b *StreamBuffer) initializeSegments() {
	for i := range b.segments {
		seg := &b.segments[i]

		if i == b.numSegments-1 {
			seg.next = nil
		} else {
			seg.next = &b.segments[i+1]
		}
		seg.prev = nil

		seg.id = types.SegmentID(i)
		seg.flags = sgfFree
		seg.stream = nil
		seg.sequenceNumber = types.InvalidSequenceNumber
		seg.submitted = false

		if b.sanity {
			b.sanityFill(seg.id, true)
		}
	}

	b.freeHead.Store(&b.segments[0])
}

// ID returns the buffer id.
func (b *StreamBuffer) ID() types.BufferID { return b.id }

// SegmentSize returns the payload size of each segment.
func (b *StreamBuffer) SegmentSize() int { return b.segmentSize }

// NumSegments returns the number of segments in the pool.
func (b *StreamBuffer) NumSegments() int { return b.numSegments }

// BufferSize returns the total size of the backing region.
func (b *StreamBuffer) BufferSize() int {
	return b.numSegments * (b.segmentSize + controlStride)
}

// SharedMemoryFd returns the descriptor of the shared backing region,
// or -1 for private buffers. Clients duplicate it to map the buffer.
func (b *StreamBuffer) SharedMemoryFd() int {
	if region, ok := b.mem.(*sharedRegion); ok {
		return region.Fd()
	}
	return -1
}

// Segment returns the payload slice of the segment.
func (b *StreamBuffer) Segment(id types.SegmentID) ([]byte, error) {
	if int(id) >= b.numSegments {
		return nil, fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	offset := int(id) * b.segmentSize
	return b.data[offset : offset+b.segmentSize : offset+b.segmentSize], nil
}

func (b *StreamBuffer) controlBytes(id types.SegmentID) []byte {
	offset := b.numSegments*b.segmentSize + int(id)*controlStride
	return b.data[offset : offset+types.ControlElementSize]
}

func (b *StreamBuffer) fenceBytes(id types.SegmentID) []byte {
	offset := b.numSegments*b.segmentSize + int(id)*controlStride + types.ControlElementSize
	return b.data[offset : offset+types.ControlElementSize]
}

// sharedControl decodes the control element from the shared region,
// regardless of the segment's current state.
func (b *StreamBuffer) sharedControl(id types.SegmentID) types.SegmentControlElement {
	return types.DecodeControlElement(b.controlBytes(id))
}

func (b *StreamBuffer) storeSharedControl(id types.SegmentID, ctrl *types.SegmentControlElement) {
	ctrl.Encode(b.controlBytes(id))
}

// ControlElement returns the segment's control element. Once a segment
// has been submitted or is read-only, the private server-side copy is
// returned; before that, the current content of the shared region.
func (b *StreamBuffer) ControlElement(id types.SegmentID) (*types.SegmentControlElement, error) {
	if int(id) >= b.numSegments {
		return nil, fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	seg := &b.segments[id]

	if seg.submitted || seg.flags.has(sgfReadOnly) {
		ctrl := seg.control
		return &ctrl, nil
	}

	ctrl := b.sharedControl(id)
	return &ctrl, nil
}

// PutControlElement writes a control element into the shared region.
// This is the writer-side update path for entry counts; the engine
// validates the cookie on submit, so a forged link or start time is
// caught there.
func (b *StreamBuffer) PutControlElement(id types.SegmentID, ctrl *types.SegmentControlElement) error {
	if int(id) >= b.numSegments {
		return fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	b.storeSharedControl(id, ctrl)
	return nil
}

// sanityFill stamps the payload with the dead or clear pattern and the
// fence with the fence pattern.
func (b *StreamBuffer) sanityFill(id types.SegmentID, dead bool) {
	fill := clearFill
	if dead {
		fill = deadFill
	}

	payload, _ := b.Segment(id)
	for i := range payload {
		payload[i] = fill
	}

	fence := b.fenceBytes(id)
	for i := range fence {
		fence[i] = fenceFill
	}
}

func testMemory(buf []byte) byte {
	if len(buf) == 0 {
		return 0x00
	}

	chr := buf[0]
	for _, c := range buf {
		if c != chr {
			return 0x00
		}
	}

	if chr != fenceFill && chr != deadFill && chr != clearFill {
		return 0x00
	}
	return chr
}

// sanityCheck validates the fill state of a segment. entrySize 0
// expects a dead segment. The return value is 0 for a clean segment,
// 1 for a suspicious payload and 2 for a corrupted fence.
func (b *StreamBuffer) sanityCheck(id types.SegmentID, entrySize uint32) int {
	ctrl := b.sharedControl(id)
	payload, _ := b.Segment(id)
	errorLevel := 0

	if entrySize > 0 {
		validLen := int(entrySize) * int(ctrl.RawEntryCount)

		if validLen > 0 && validLen <= len(payload) && ctrl.StartIndex != types.InvalidEntryIndex {
			chr := testMemory(payload[validLen-int(entrySize) : validLen])
			if chr == clearFill {
				util.Warn("Segment sanity check failed. Segment %d of buffer %d "+
					"seems to contain less entries than specified in the control "+
					"element <stream: %d, sqn: %d, rec: %d, ec: %d>.",
					id, b.id, ctrl.Link.Stream, ctrl.Link.SequenceNumber,
					ctrl.RawEntryCount, ctrl.EntryCount)
				errorLevel = 1
			}
		}

		if validLen < len(payload) {
			chr := testMemory(payload[validLen:])
			if chr != clearFill {
				util.Warn("Segment sanity check failed. Segment %d of buffer %d "+
					"has been modified beyond the last submitted entry "+
					"<stream: %d, sqn: %d, rec: %d, ec: %d>.",
					id, b.id, ctrl.Link.Stream, ctrl.Link.SequenceNumber,
					ctrl.RawEntryCount, ctrl.EntryCount)
				errorLevel = 1
			}
		}
	} else {
		if testMemory(payload) != deadFill {
			util.Error("Segment sanity check failed. Segment %d of buffer %d "+
				"has been modified while being marked as free.", id, b.id)
			errorLevel = 1
		}
	}

	if testMemory(b.fenceBytes(id)) != fenceFill {
		util.Error("Segment sanity check failed. The control fence of segment %d "+
			"in buffer %d has been corrupted <stream: %d, sqn: %d>.",
			id, b.id, ctrl.Link.Stream, ctrl.Link.SequenceNumber)
		errorLevel = 2
	}

	return errorLevel
}

// Close drains the standby list and releases the backing region. All
// segments must have been returned to the pool; leaked segments are
// reported but do not prevent the region from being unmapped.
func (b *StreamBuffer) Close() error {
	b.closeOnce.Do(func() {
		b.FlushStandbyList(types.InvalidStoreID)

		leaked := 0
		for i := range b.segments {
			if b.segments[i].flags != sgfFree {
				leaked++
			}
		}
		if leaked > 0 {
			util.Error("Closing buffer %d with %d segments still in use.", b.id, leaked)
			b.closeErr = fmt.Errorf("%w: %d segments still in use", ErrInvalidOperation, leaked)
		}

		if b.sanity && leaked == 0 {
			for i := range b.segments {
				b.sanityCheck(types.SegmentID(i), 0)
			}
		}

		if err := b.mem.close(); err != nil {
			b.closeErr = err
		}
		b.data = nil
	})

	return b.closeErr
}
