package types

// StreamRangeInformation summarizes the index, cycle and wall-clock
// ranges covered by a persisted segment.
type StreamRangeInformation struct {
	StartIndex uint64
	EndIndex   uint64

	StartCycle CycleCount
	EndCycle   CycleCount

	StartTime Timestamp
	EndTime   Timestamp
}

func NewStreamRangeInformation() StreamRangeInformation {
	return StreamRangeInformation{
		StartIndex: InvalidEntryIndex,
		EndIndex:   InvalidEntryIndex,
		StartCycle: InvalidCycleCount,
		EndCycle:   InvalidCycleCount,
		StartTime:  InvalidTimestamp,
		EndTime:    InvalidTimestamp,
	}
}

// StorageLocation records where and what an encoder persisted for a
// submitted segment. The engine consumes it again when the segment is
// reopened.
type StorageLocation struct {
	Link   StreamSegmentLink
	Ranges StreamRangeInformation

	CompressedSize uint64
	RawEntryCount  uint32
}

// NewStorageLocation derives a location from a submitted control
// element. The entry counts in ctrl must already be final.
func NewStorageLocation(ctrl *SegmentControlElement) *StorageLocation {
	loc := &StorageLocation{
		Link:          ctrl.Link,
		Ranges:        NewStreamRangeInformation(),
		RawEntryCount: ctrl.RawEntryCount,
	}

	if ctrl.StartIndex != InvalidEntryIndex {
		loc.Ranges.StartIndex = ctrl.StartIndex
		loc.Ranges.EndIndex = ctrl.StartIndex + uint64(ctrl.EntryCount) - 1
	}
	loc.Ranges.StartCycle = ctrl.StartCycle
	loc.Ranges.EndCycle = ctrl.EndCycle
	loc.Ranges.StartTime = ctrl.StartTime
	loc.Ranges.EndTime = ctrl.EndTime

	return loc
}

// EntryCount returns the number of indexed entries covered by the
// location, or 0 if the segment is not index-addressed.
func (l *StorageLocation) EntryCount() uint32 {
	if l.Ranges.StartIndex == InvalidEntryIndex {
		return 0
	}
	return uint32(l.Ranges.EndIndex-l.Ranges.StartIndex) + 1
}
