package buffer

import (
	"github.com/gaasedelen/simutrace/pkg/metrics"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

func (b *StreamBuffer) notifyEncoderCacheClosed(seg *segment) {
	seg.stream.Encoder().NotifySegmentCacheClosed(seg.sequenceNumber)
}

// dequeueFromStandbyList unlinks a segment from the circular LRU list.
// Caller holds standbyMu.
func (b *StreamBuffer) dequeueFromStandbyList(seg *segment) {
	if seg.next == seg {
		b.standbyHead = nil
	} else {
		seg.prev.next = seg.next
		seg.next.prev = seg.prev

		if seg == b.standbyHead {
			b.standbyHead = seg.next
		}
	}

	seg.submitted = false
	seg.next = nil
	seg.prev = nil

	metrics.StandbySegments.Dec()
}

// enqueueToStandbyList links a segment into the LRU list. New segments
// become the head unless they are low priority; those go to the tail
// and are the next eviction victim. A pending prefetch boost overrides
// low priority for exactly one insertion.
func (b *StreamBuffer) enqueueToStandbyList(seg *segment) {
	if b.standbyHead == nil {
		seg.next = seg
		seg.prev = seg

		b.standbyHead = seg
	} else {
		seg.next = b.standbyHead
		seg.prev = b.standbyHead.prev

		b.standbyHead.prev.next = seg
		b.standbyHead.prev = seg

		if !seg.flags.has(sgfLowPriority) || seg.flags.has(sgfPrefetch) {
			b.standbyHead = seg
		}
	}

	seg.flags &^= sgfPrefetch

	metrics.StandbySegments.Inc()
}

// findStandbySegment looks up a cached segment by key; with erase the
// index entry is removed as well. Caller holds standbyMu.
func (b *StreamBuffer) findStandbySegment(key standbyKey, erase bool) *segment {
	seg, ok := b.standbyIndex[key]
	if !ok {
		return nil
	}

	if erase {
		delete(b.standbyIndex, key)
	}

	return seg
}

// evictFromStandbyList removes and returns the least recently used
// standby segment, reset to plain in-use state, or nil if the cache is
// empty.
func (b *StreamBuffer) evictFromStandbyList() *segment {
	b.standbyMu.Lock()
	defer b.standbyMu.Unlock()

	if b.standbyHead == nil {
		return nil
	}

	// The head's prev is the tail, i.e. the least recently used entry.
	seg := b.standbyHead.prev

	b.notifyEncoderCacheClosed(seg)

	key := standbyKey{store: seg.stream.StoreID(), link: seg.control.Link}
	b.findStandbySegment(key, true)

	b.dequeueFromStandbyList(seg)
	seg.flags = sgfInUse

	metrics.StandbyEvictions.Inc()

	return seg
}

// removeStandbySegment is the read fast path: a hit returns the cached
// segment, already removed from both structures and still populated
// with its prior contents.
func (b *StreamBuffer) removeStandbySegment(key standbyKey) *segment {
	b.standbyMu.Lock()
	defer b.standbyMu.Unlock()

	seg := b.findStandbySegment(key, true)
	if seg != nil {
		b.dequeueFromStandbyList(seg)
	}

	return seg
}

// addStandbySegment inserts a freed read-only segment into the cache.
// If the same key is already cached, the newcomer is purged; the cache
// holds at most one copy per key and the incumbent keeps its position.
func (b *StreamBuffer) addStandbySegment(seg *segment) {
	b.standbyMu.Lock()
	defer b.standbyMu.Unlock()

	key := standbyKey{store: seg.stream.StoreID(), link: seg.control.Link}

	if b.findStandbySegment(key, false) != nil {
		b.purgeSegmentInternal(seg)
	} else {
		b.standbyIndex[key] = seg
		b.enqueueToStandbyList(seg)
	}
}

// FlushStandbyList drops every cached segment whose owning stream
// lives in the given store, or all cached segments when store is
// InvalidStoreID.
func (b *StreamBuffer) FlushStandbyList(store types.StoreID) {
	b.standbyMu.Lock()
	defer b.standbyMu.Unlock()

	if b.standbyHead == nil {
		return
	}

	end := b.standbyHead.prev

	seg := b.standbyHead
	for {
		nseg := seg.next

		streamStore := seg.stream.StoreID()
		if store == types.InvalidStoreID || streamStore == store {
			b.notifyEncoderCacheClosed(seg)

			key := standbyKey{store: streamStore, link: seg.control.Link}
			b.findStandbySegment(key, true)

			util.Mem("Flushing cached segment %d in buffer %d "+
				"<store: %d, stream: %d, sqn: %d>.", seg.id, b.id,
				streamStore, seg.stream.ID(), seg.sequenceNumber)

			b.dequeueFromStandbyList(seg)
			b.purgeSegmentInternal(seg)
		}

		if seg == end {
			break
		}
		seg = nseg
	}
}
