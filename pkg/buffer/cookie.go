package buffer

import (
	"github.com/spaolacci/murmur3"

	"github.com/gaasedelen/simutrace/pkg/types"
)

// computeControlCookie derives the integrity tag for a control
// element. Writable segments are tagged over the client-stable fields
// only (owner identity and creation time); once a segment is read-only
// the server owns every field, so the low 32 bits are replaced by a
// keyed hash over the entire element.
func (b *StreamBuffer) computeControlCookie(ctrl *types.SegmentControlElement, seg *segment) uint64 {
	cookie := b.cookie
	cookie ^= uint64(seg.id)<<32 | uint64(seg.id)
	cookie ^= uint64(ctrl.Link.Stream) << 32
	cookie ^= uint64(ctrl.Link.SequenceNumber)
	cookie ^= uint64(ctrl.StartTime)

	if seg.flags.has(sgfReadOnly) {
		seed := uint32(cookie)

		var buf [types.ControlElementSize]byte
		ctrl.Encode(buf[:])

		// The cookie occupies the last 8 bytes and is not part of its
		// own hash.
		sum := murmur3.Sum32WithSeed(buf[:types.ControlElementSize-8], seed)
		cookie = (cookie &^ 0xFFFFFFFF) | uint64(sum)
	}

	return cookie
}

func (b *StreamBuffer) testControlCookie(ctrl *types.SegmentControlElement, seg *segment) bool {
	return ctrl.Cookie == b.computeControlCookie(ctrl, seg)
}
