package types

import "encoding/binary"

// ControlElementSize is the wire size of a SegmentControlElement in
// the shared control region. The cookie occupies the last 8 bytes.
const ControlElementSize = 64

// SegmentControlElement is the per-segment header shared between the
// client and the server. The client fills the entry counts while
// writing; every other field belongs to the server. While the segment
// is writable the cookie protects only the link and the start time;
// once it is read-only the cookie covers every field.
type SegmentControlElement struct {
	Link StreamSegmentLink

	EntryCount    uint32
	RawEntryCount uint32

	// StartIndex may be set to InvalidEntryIndex by the server to
	// disable index-based addressing for the segment.
	StartIndex uint64

	EndCycle   CycleCount
	StartCycle CycleCount

	EndTime   Timestamp
	StartTime Timestamp

	Cookie uint64
}

// Encode writes the control element into b in its shared-memory wire
// layout (little-endian, cookie last). b must hold at least
// ControlElementSize bytes.
func (c *SegmentControlElement) Encode(b []byte) {
	_ = b[ControlElementSize-1]

	binary.LittleEndian.PutUint32(b[0:4], uint32(c.Link.Stream))
	binary.LittleEndian.PutUint32(b[4:8], uint32(c.Link.SequenceNumber))
	binary.LittleEndian.PutUint32(b[8:12], c.EntryCount)
	binary.LittleEndian.PutUint32(b[12:16], c.RawEntryCount)
	binary.LittleEndian.PutUint64(b[16:24], c.StartIndex)
	binary.LittleEndian.PutUint64(b[24:32], uint64(c.EndCycle))
	binary.LittleEndian.PutUint64(b[32:40], uint64(c.StartCycle))
	binary.LittleEndian.PutUint64(b[40:48], uint64(c.EndTime))
	binary.LittleEndian.PutUint64(b[48:56], uint64(c.StartTime))
	binary.LittleEndian.PutUint64(b[56:64], c.Cookie)
}

// DecodeControlElement reads a control element from its wire layout.
func DecodeControlElement(b []byte) SegmentControlElement {
	_ = b[ControlElementSize-1]

	return SegmentControlElement{
		Link: StreamSegmentLink{
			Stream:         StreamID(binary.LittleEndian.Uint32(b[0:4])),
			SequenceNumber: SequenceNumber(binary.LittleEndian.Uint32(b[4:8])),
		},
		EntryCount:    binary.LittleEndian.Uint32(b[8:12]),
		RawEntryCount: binary.LittleEndian.Uint32(b[12:16]),
		StartIndex:    binary.LittleEndian.Uint64(b[16:24]),
		EndCycle:      CycleCount(binary.LittleEndian.Uint64(b[24:32])),
		StartCycle:    CycleCount(binary.LittleEndian.Uint64(b[32:40])),
		EndTime:       Timestamp(binary.LittleEndian.Uint64(b[40:48])),
		StartTime:     Timestamp(binary.LittleEndian.Uint64(b[48:56])),
		Cookie:        binary.LittleEndian.Uint64(b[56:64]),
	}
}
