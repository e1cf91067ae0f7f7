package buffer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gaasedelen/simutrace/pkg/metrics"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

// prepareSegment initializes the shared control element for a freshly
// allocated segment and snapshots it into the descriptor. All writes
// here happen before the segment id is published to any encoder, so
// the encoder observes a fully initialized control element.
func (b *StreamBuffer) prepareSegment(seg *segment, stream Stream, sqn types.SequenceNumber) {
	var ctrl types.SegmentControlElement

	if stream == nil {
		ctrl.Link.Stream = types.InvalidStreamID
	} else {
		ctrl.Link.Stream = stream.ID()
	}
	ctrl.Link.SequenceNumber = sqn

	ctrl.StartCycle = types.InvalidCycleCount
	ctrl.EndCycle = types.InvalidCycleCount

	ctrl.StartTime = types.Timestamp(time.Now().UnixNano())
	ctrl.EndTime = types.InvalidTimestamp

	ctrl.Cookie = b.computeControlCookie(&ctrl, seg)

	b.storeSharedControl(seg.id, &ctrl)
	seg.control = ctrl

	seg.stream = stream
	seg.sequenceNumber = sqn

	if b.sanity {
		b.sanityFill(seg.id, false)
	}
}

// handleContention is called when both the free list and the standby
// cache came up empty. It burns one retry from the budget and sleeps.
func (b *StreamBuffer) handleContention(tryCount int, isScratch bool) bool {
	scratch := ""
	if isScratch {
		scratch = ", scratch"
	}
	util.Warn("Delaying segment request. Stream buffer %d exhausted <try: %d%s>.",
		b.id, tryCount, scratch)

	if tryCount >= b.retryCount {
		return false
	}

	metrics.SegmentRequestRetries.Inc()
	time.Sleep(b.retrySleep)
	return true
}

// tryAllocateFreeSegment obtains a fresh segment from the free list or
// by evicting the standby cache, retrying under contention. Prefetch
// requests never sleep; they fail fast instead.
func (b *StreamBuffer) tryAllocateFreeSegment(stream Stream, sqn types.SequenceNumber,
	prefetch bool) *segment {

	tryCount := 1
	for {
		util.Mem("Requesting segment from buffer %d <try: %d>.", b.id, tryCount)

		seg := b.dequeueFromFreeList()
		if seg == nil {
			// Second resort: reuse the least recently used standby
			// segment, if any.
			seg = b.evictFromStandbyList()
		}

		if seg != nil {
			b.prepareSegment(seg, stream, sqn)
			metrics.SegmentRequests.Inc()

			util.Mem("Allocated segment %d from buffer %d <try: %d>.",
				seg.id, b.id, tryCount)

			return seg
		}

		if prefetch || !b.handleContention(tryCount, stream == nil) {
			return nil
		}

		tryCount++
	}
}

func (b *StreamBuffer) purgeSegmentInternal(seg *segment) {
	if seg.stream != nil {
		b.notifyEncoderCacheClosed(seg)
	}

	b.enqueueToFreeList(seg)
	metrics.SegmentsPurged.Inc()
}

// freeSegmentInternal is the normal release path. Cacheable segments
// with data transition to read-only and park on the standby list;
// everything else is purged. Caller holds the segment mutex or has
// exclusive ownership.
func (b *StreamBuffer) freeSegmentInternal(seg *segment, prefetch bool) {
	// Block resubmits and make getControlElement return the private
	// copy. For writable segments this is already the case.
	seg.submitted = true

	if seg.flags.has(sgfCacheable) && b.enableCache && seg.control.RawEntryCount > 0 {
		if prefetch {
			// Keep the segment away from the standby tail even if it
			// is low priority, so a prefetched segment survives until
			// it had one chance to be used. The flag is consumed by
			// the insertion.
			seg.flags |= sgfPrefetch
		}

		if !seg.flags.has(sgfReadOnly) {
			// First free of a written segment: from now on the server
			// owns every control field, so the cookie switches to the
			// read-only form and the final figures are published back
			// to the client.
			seg.flags |= sgfReadOnly

			seg.control.Cookie = b.computeControlCookie(&seg.control, seg)
			b.storeSharedControl(seg.id, &seg.control)
		}

		b.addStandbySegment(seg)
	} else {
		b.purgeSegmentInternal(seg)
	}
}

// requestSegmentInternal backs all three allocation entry points. When
// location is non-nil the segment is populated through the stream's
// encoder; completed=false means the encoder queued the read and will
// finalize at the stream.
func (b *StreamBuffer) requestSegmentInternal(stream Stream, sqn types.SequenceNumber,
	flags types.StreamAccessFlags, location *types.StorageLocation,
	prefetch bool) (types.SegmentID, bool, error) {

	// Source 1: the standby cache, for reader opens only. A hit returns
	// the segment already populated with its prior contents, removed
	// from the cache. Writers always receive a fresh segment.
	if stream != nil && location != nil {
		key := standbyKey{
			store: stream.StoreID(),
			link:  types.NewStreamSegmentLink(stream.ID(), sqn),
		}

		if seg := b.removeStandbySegment(key); seg != nil {
			metrics.StandbyHits.Inc()
			return seg.id, true, nil
		}
	}

	// Source 2: a fresh segment from the free list, possibly evicting
	// the cache.
	seg := b.tryAllocateFreeSegment(stream, sqn, prefetch)
	if seg == nil {
		return types.InvalidSegmentID, true,
			fmt.Errorf("%w: stream buffer %d exhausted", ErrOperationInProgress, b.id)
	}

	if location != nil {
		// Block concurrent operations by the encoder or other
		// callers while the segment is initialized.
		seg.lock.Lock()
		defer seg.lock.Unlock()

		seg.flags |= sgfReadOnly

		if b.enableCache {
			seg.flags |= sgfCacheable

			// Random access must not pollute the cache head, and a
			// sequential scan never revisits a closed segment. Both
			// get one-touch caching via low priority.
			if flags.Has(types.SafRandomAccess) || flags.Has(types.SafSequentialScan) {
				seg.flags |= sgfLowPriority
			}
		}

		ctrl := seg.control
		ctrl.StartCycle = location.Ranges.StartCycle
		ctrl.EndCycle = location.Ranges.EndCycle
		ctrl.StartTime = location.Ranges.StartTime
		ctrl.EndTime = location.Ranges.EndTime

		ctrl.StartIndex = location.Ranges.StartIndex
		if location.Ranges.StartIndex != types.InvalidEntryIndex {
			ctrl.EntryCount = location.EntryCount()
		}
		ctrl.RawEntryCount = location.RawEntryCount

		ctrl.Cookie = b.computeControlCookie(&ctrl, seg)
		b.storeSharedControl(seg.id, &ctrl)
		seg.control = ctrl

		util.Debug("Decoding segment %d in buffer %d <stream: %d, sqn: %d>.",
			seg.id, b.id, stream.ID(), sqn)

		// The segment id is fixed before the read is initiated so
		// asynchronous encoders can reference it.
		id := seg.id

		start := time.Now()
		completed, err := stream.Encoder().Read(b, id, flags, location, prefetch)
		if err != nil {
			b.purgeSegmentInternal(seg)

			util.Error("Failed to decode segment %d in buffer %d "+
				"<stream: %d, sqn: %d>: %v", id, b.id, stream.ID(), sqn, err)

			return types.InvalidSegmentID, true,
				fmt.Errorf("decode segment %d in buffer %d: %w", id, b.id, err)
		}
		metrics.DecodeSeconds.Observe(time.Since(start).Seconds())

		if !completed && flags.Has(types.SafSynchronous) {
			b.purgeSegmentInternal(seg)
			return types.InvalidSegmentID, true,
				fmt.Errorf("%w: encoder deferred a synchronous read", ErrInvalidOperation)
		}

		return id, completed, nil
	}

	if stream == nil {
		// Scratch segments are never cached or submitted.
		seg.flags |= sgfScratch
	} else if b.enableCache {
		// New write segment. Caching is on, but writes are assumed to
		// be sequential, so the segment is low priority.
		seg.flags |= sgfCacheable | sgfLowPriority
	}

	return seg.id, true, nil
}

// RequestSegment allocates a fresh, writable segment bound to the
// given stream and sequence number.
func (b *StreamBuffer) RequestSegment(stream Stream, sqn types.SequenceNumber) (types.SegmentID, error) {
	if stream == nil {
		return types.InvalidSegmentID, fmt.Errorf("%w: stream must not be nil", ErrInvalidArgument)
	}
	if sqn == types.InvalidSequenceNumber {
		return types.InvalidSegmentID, fmt.Errorf("%w: sequenceNumber", ErrInvalidArgument)
	}

	id, _, err := b.requestSegmentInternal(stream, sqn, types.SafNone, nil, false)
	return id, err
}

// RequestScratchSegment allocates an anonymous segment that cannot be
// submitted or cached.
func (b *StreamBuffer) RequestScratchSegment() (types.SegmentID, error) {
	id, _, err := b.requestSegmentInternal(nil, types.InvalidSequenceNumber,
		types.SafNone, nil, false)
	return id, err
}

// OpenSegment returns a read-only segment populated with the data the
// location describes, either straight from the standby cache or by
// invoking the stream's encoder. completed=false reports a read that
// the encoder will finalize asynchronously at the stream. Prefetchers
// fail fast with ErrOperationInProgress instead of sleeping.
func (b *StreamBuffer) OpenSegment(stream Stream, flags types.StreamAccessFlags,
	location *types.StorageLocation, prefetch bool) (types.SegmentID, bool, error) {

	if stream == nil {
		return types.InvalidSegmentID, false, fmt.Errorf("%w: stream must not be nil", ErrInvalidArgument)
	}
	if location == nil {
		return types.InvalidSegmentID, false, fmt.Errorf("%w: location must not be nil", ErrInvalidArgument)
	}
	if location.Link.Stream != stream.ID() {
		return types.InvalidSegmentID, false,
			fmt.Errorf("%w: location belongs to stream %d", ErrInvalidArgument, location.Link.Stream)
	}

	verb := "Loading"
	if prefetch {
		verb = "Prefetching"
	}
	util.Mem("%s segment into buffer %d <stream: %d, sqn: %d>.",
		verb, b.id, location.Link.Stream, location.Link.SequenceNumber)

	return b.requestSegmentInternal(stream, location.Link.SequenceNumber,
		flags, location, prefetch)
}

// SubmitSegment finalizes a written segment and hands it to the
// stream's encoder. On success the returned location describes the
// persisted data; a nil location with completed=true means the encoder
// discarded the data (or the segment was empty). completed=false
// reports an asynchronous encoder that will finalize at the stream.
func (b *StreamBuffer) SubmitSegment(id types.SegmentID) (bool, *types.StorageLocation, error) {
	if int(id) >= b.numSegments {
		return false, nil, fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	seg := &b.segments[id]

	if seg.stream == nil {
		return false, nil, fmt.Errorf("%w: segment %d is not bound to a stream",
			ErrInvalidOperation, id)
	}

	seg.lock.Lock()
	defer seg.lock.Unlock()

	// Submitting free and standby segments is forbidden, as is
	// submitting the same segment twice.
	if !seg.flags.has(sgfInUse) || seg.next != nil || seg.submitted {
		return false, nil, fmt.Errorf("%w: segment %d cannot be submitted in its current state",
			ErrInvalidOperation, id)
	}

	return b.submitSegmentLocked(seg)
}

func (b *StreamBuffer) submitSegmentLocked(seg *segment) (bool, *types.StorageLocation, error) {
	if !seg.flags.has(sgfReadOnly) {
		// Copy the control element so the client cannot change any
		// control information while the data is processed. The cookie
		// is checked over the copy as the client left it, so a forged
		// owner identity fails validation; afterwards the recorded
		// owner wins over whatever the client wrote.
		shared := b.sharedControl(seg.id)

		if !b.testControlCookie(&shared, seg) {
			util.Error("Failed submitting segment %d to buffer %d. "+
				"The control cookie is invalid.", seg.id, b.id)

			b.purgeSegmentInternal(seg)
			return false, nil, fmt.Errorf("%w: segment %d control cookie mismatch",
				ErrCorruption, seg.id)
		}

		seg.control = shared
		seg.control.Link.Stream = seg.stream.ID()
		seg.control.Link.SequenceNumber = seg.sequenceNumber
	} else if !b.testControlCookie(&seg.control, seg) {
		util.Error("Failed submitting segment %d to buffer %d. "+
			"The control cookie is invalid.", seg.id, b.id)

		b.purgeSegmentInternal(seg)
		return false, nil, fmt.Errorf("%w: segment %d control cookie mismatch",
			ErrCorruption, seg.id)
	}

	util.Mem("Submitting segment %d to buffer %d <stream: %d, sqn: %d, rec: %d, ec: %d>.",
		seg.id, b.id, seg.control.Link.Stream, seg.control.Link.SequenceNumber,
		seg.control.RawEntryCount, seg.control.EntryCount)

	seg.submitted = true

	encoder := seg.stream.Encoder()

	// Read-only segments carry no new data; free them, potentially
	// back onto the standby list.
	if seg.flags.has(sgfReadOnly) {
		b.freeSegmentInternal(seg, false)
		return true, nil, nil
	}

	// A segment without valid entries leaves a hole in the stream's
	// sequence; the encoder records it and the segment is dropped.
	if seg.control.RawEntryCount == 0 {
		util.Warn("Dropping empty segment %d in buffer %d. Did you forget "+
			"to submit the entries <stream: %d, sqn: %d>?", seg.id, b.id,
			seg.control.Link.Stream, seg.control.Link.SequenceNumber)

		if err := encoder.Drop(b, seg.id); err != nil {
			seg.submitted = false
			return false, nil, fmt.Errorf("drop segment %d in buffer %d: %w",
				seg.id, b.id, err)
		}

		b.purgeSegmentInternal(seg)
		metrics.SegmentsDropped.Inc()

		return true, nil, nil
	}

	desc := seg.stream.Type()

	if !desc.VariableSize {
		seg.control.EntryCount = seg.control.RawEntryCount
	}

	validLen := int(desc.EntrySize) * int(seg.control.RawEntryCount)
	if validLen > b.segmentSize ||
		(!desc.VariableSize && seg.control.EntryCount != seg.control.RawEntryCount) ||
		seg.control.EntryCount > seg.control.RawEntryCount {

		seg.submitted = false
		b.purgeSegmentInternal(seg)
		return false, nil, fmt.Errorf("%w: invalid number of entries in control "+
			"element for stream %d <sqn: %d, seg: %d>", ErrCorruption,
			seg.control.Link.Stream, seg.control.Link.SequenceNumber, seg.id)
	}

	seg.control.EndTime = types.Timestamp(time.Now().UnixNano())

	if desc.TemporalOrder {
		if desc.VariableSize || desc.EntrySize < 8 {
			seg.submitted = false
			b.purgeSegmentInternal(seg)
			return false, nil, fmt.Errorf("%w: stream %d is temporally ordered but its "+
				"entries cannot carry a cycle count", ErrCorruption, seg.control.Link.Stream)
		}

		payload, _ := b.Segment(seg.id)

		// Each entry starts with a 48-bit cycle count; read it from
		// the first and the last valid entry.
		first := types.CycleCount(binary.LittleEndian.Uint64(payload[0:8])) & types.CycleCountMask
		lastOff := validLen - int(desc.EntrySize)
		last := types.CycleCount(binary.LittleEndian.Uint64(payload[lastOff:lastOff+8])) & types.CycleCountMask

		if first == types.InvalidCycleCount || last == types.InvalidCycleCount || first > last {
			seg.submitted = false
			b.purgeSegmentInternal(seg)
			return false, nil, fmt.Errorf("%w: invalid cycle information in "+
				"temporally ordered stream %d for segment %d <sqn: %d>",
				ErrCorruption, seg.control.Link.Stream, seg.id,
				seg.control.Link.SequenceNumber)
		}

		seg.control.StartCycle = first
		seg.control.EndCycle = last
	} else {
		seg.control.StartCycle = types.InvalidCycleCount
		seg.control.EndCycle = types.InvalidCycleCount
	}

	seg.control.Cookie = b.computeControlCookie(&seg.control, seg)

	util.Debug("Encoding segment %d in buffer %d <stream: %d, sqn: %d, size: %d>.",
		seg.id, b.id, seg.control.Link.Stream, seg.control.Link.SequenceNumber,
		validLen)

	// The encoder may persist synchronously, discard the data, or
	// queue the write and finalize at the stream later. An error here
	// keeps the data; the caller may retry the submit.
	start := time.Now()
	completed, location, err := encoder.Write(b, seg.id)
	if err != nil {
		seg.submitted = false

		util.Error("Failed to encode segment %d in buffer %d "+
			"<stream: %d, sqn: %d>: %v", seg.id, b.id,
			seg.control.Link.Stream, seg.control.Link.SequenceNumber, err)

		return false, nil, fmt.Errorf("encode segment %d in buffer %d: %w",
			seg.id, b.id, err)
	}
	metrics.EncodeSeconds.Observe(time.Since(start).Seconds())
	metrics.SegmentsSubmitted.Inc()

	if completed {
		if location != nil {
			if b.sanity {
				b.checkLocationAgainstControl(seg, location)
			}
			b.freeSegmentInternal(seg, false)
		} else {
			// No storage location: the encoder discarded the data,
			// the segment is no longer valid.
			b.purgeSegmentInternal(seg)
		}
	}

	return completed, location, nil
}

// checkLocationAgainstControl validates the encoder's location record
// against the submitted control element in sanity-checking runs.
func (b *StreamBuffer) checkLocationAgainstControl(seg *segment, loc *types.StorageLocation) {
	ok := loc.Link == seg.control.Link &&
		loc.Ranges.StartIndex == seg.control.StartIndex &&
		(loc.Ranges.StartIndex == types.InvalidEntryIndex ||
			loc.EntryCount() == seg.control.EntryCount) &&
		loc.RawEntryCount == seg.control.RawEntryCount &&
		loc.Ranges.StartCycle == seg.control.StartCycle &&
		loc.Ranges.EndCycle == seg.control.EndCycle &&
		loc.Ranges.StartTime == seg.control.StartTime &&
		loc.Ranges.EndTime == seg.control.EndTime

	if !ok {
		util.Error("Encoder location for segment %d in buffer %d does not match "+
			"the submitted control element <stream: %d, sqn: %d>.",
			seg.id, b.id, seg.control.Link.Stream, seg.control.Link.SequenceNumber)
	}
}

// FreeSegment releases a segment after use. Cacheable read-only
// segments park on the standby list; prefetch marks the segment to
// survive until its first use even if it is low priority.
func (b *StreamBuffer) FreeSegment(id types.SegmentID, prefetch bool) error {
	if int(id) >= b.numSegments {
		return fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	seg := &b.segments[id]

	seg.lock.Lock()
	defer seg.lock.Unlock()

	// Freeing free and standby segments is forbidden, as is freeing a
	// writable segment that was never submitted; its control element
	// is not up to date.
	if !seg.flags.has(sgfInUse) || seg.next != nil ||
		(!seg.flags.has(sgfReadOnly) && !seg.submitted) {
		return fmt.Errorf("%w: segment %d cannot be freed in its current state",
			ErrInvalidOperation, id)
	}

	util.Mem("Releasing segment %d to buffer %d.", id, b.id)

	b.freeSegmentInternal(seg, prefetch)
	return nil
}

// PurgeSegment returns a segment to the free list without caching it.
func (b *StreamBuffer) PurgeSegment(id types.SegmentID) error {
	if int(id) >= b.numSegments {
		return fmt.Errorf("%w: %d", ErrSegmentOutOfRange, id)
	}
	seg := &b.segments[id]

	seg.lock.Lock()
	defer seg.lock.Unlock()

	if !seg.flags.has(sgfInUse) || seg.next != nil {
		return fmt.Errorf("%w: segment %d cannot be purged in its current state",
			ErrInvalidOperation, id)
	}

	util.Mem("Purging segment %d of buffer %d.", id, b.id)

	b.purgeSegmentInternal(seg)
	return nil
}
