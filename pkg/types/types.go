package types

// Identifier types used across the storage server. All ids are dense
// unsigned values; the all-ones value marks an unassigned id.
type (
	BufferID       uint32
	StoreID        uint32
	StreamID       uint32
	SegmentID      uint32
	SequenceNumber uint32

	CycleCount uint64
	Timestamp  uint64
)

const (
	InvalidBufferID       BufferID       = ^BufferID(0)
	InvalidStoreID        StoreID        = ^StoreID(0)
	InvalidStreamID       StreamID       = ^StreamID(0)
	InvalidSegmentID      SegmentID      = ^SegmentID(0)
	InvalidSequenceNumber SequenceNumber = ^SequenceNumber(0)

	InvalidCycleCount CycleCount = ^CycleCount(0)
	InvalidTimestamp  Timestamp  = ^Timestamp(0)
	InvalidEntryIndex uint64     = ^uint64(0)
)

// Cycle counts in temporally ordered streams are 48 bits wide. Values
// read from entries must be masked before use.
const (
	CycleCountBits = 48
	CycleCountMask = CycleCount(1<<CycleCountBits) - 1
)

// StreamSegmentLink identifies a segment within its stream.
type StreamSegmentLink struct {
	Stream         StreamID
	SequenceNumber SequenceNumber
}

func NewStreamSegmentLink(stream StreamID, sqn SequenceNumber) StreamSegmentLink {
	return StreamSegmentLink{Stream: stream, SequenceNumber: sqn}
}

// StreamAccessFlags carry the caller's access hints into segment opens.
type StreamAccessFlags uint32

const (
	SafNone           StreamAccessFlags = 0
	SafSequentialScan StreamAccessFlags = 1 << 0
	SafRandomAccess   StreamAccessFlags = 1 << 1
	SafSynchronous    StreamAccessFlags = 1 << 2
)

func (f StreamAccessFlags) Has(flag StreamAccessFlags) bool {
	return f&flag != 0
}

// StreamTypeDescriptor describes the entry format of a stream type.
// Temporally ordered streams have fixed-size entries that start with a
// 48-bit cycle count.
type StreamTypeDescriptor struct {
	Name          string
	EntrySize     uint32
	VariableSize  bool
	TemporalOrder bool
}
