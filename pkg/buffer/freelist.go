package buffer

import (
	"github.com/gaasedelen/simutrace/pkg/metrics"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

// dequeueFromFreeList pops the head of the free list, or returns nil
// if the list is empty. As long as the head is not nil, the CAS
// retries with whatever head another thread installed in the meantime.
func (b *StreamBuffer) dequeueFromFreeList() *segment {
	for {
		seg := b.freeHead.Load()
		if seg == nil {
			return nil
		}

		if b.freeHead.CompareAndSwap(seg, seg.next) {
			seg.submitted = false
			seg.flags = sgfInUse
			seg.next = nil

			metrics.SegmentsInUse.Inc()

			if b.sanity && b.sanityCheck(seg.id, 0) != 0 {
				util.Error("Free segment %d of buffer %d failed its sanity check.",
					seg.id, b.id)
			}

			return seg
		}
	}
}

// enqueueToFreeList clears ownership and pushes the segment onto the
// free list head.
func (b *StreamBuffer) enqueueToFreeList(seg *segment) {
	if b.sanity {
		b.sanityFill(seg.id, true)
	}

	seg.stream = nil
	seg.sequenceNumber = types.InvalidSequenceNumber
	seg.flags = sgfFree

	metrics.SegmentsInUse.Dec()

	for {
		head := b.freeHead.Load()
		seg.next = head
		if b.freeHead.CompareAndSwap(head, seg) {
			return
		}
	}
}
