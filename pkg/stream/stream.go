package stream

import (
	"fmt"
	"sync"

	"github.com/gaasedelen/simutrace/pkg/buffer"
	"github.com/gaasedelen/simutrace/pkg/types"
)

// ServerStream binds a stream id to its store, type descriptor and
// encoder, and keeps the registry of persisted segment locations. It
// satisfies the identity surface the stream buffer engine requires.
type ServerStream struct {
	id    types.StreamID
	store types.StoreID
	desc  types.StreamTypeDescriptor

	encoder buffer.StreamEncoder

	mu        sync.RWMutex
	locations map[types.SequenceNumber]*types.StorageLocation
	nextSqn   types.SequenceNumber
}

func New(id types.StreamID, store types.StoreID, desc types.StreamTypeDescriptor,
	encoder buffer.StreamEncoder) *ServerStream {

	return &ServerStream{
		id:        id,
		store:     store,
		desc:      desc,
		encoder:   encoder,
		locations: make(map[types.SequenceNumber]*types.StorageLocation),
	}
}

func (s *ServerStream) ID() types.StreamID               { return s.id }
func (s *ServerStream) StoreID() types.StoreID           { return s.store }
func (s *ServerStream) Type() types.StreamTypeDescriptor { return s.desc }
func (s *ServerStream) Encoder() buffer.StreamEncoder    { return s.encoder }

// AllocateSequenceNumber hands out the next append position. Sequence
// numbers within a stream are assigned monotonically by this layer;
// the buffer engine does not order segments across a stream.
func (s *ServerStream) AllocateSequenceNumber() types.SequenceNumber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqn := s.nextSqn
	s.nextSqn++
	return sqn
}

// AddLocation registers where a submitted segment was persisted.
func (s *ServerStream) AddLocation(location *types.StorageLocation) error {
	if location == nil {
		return fmt.Errorf("location must not be nil")
	}
	if location.Link.Stream != s.id {
		return fmt.Errorf("location belongs to stream %d, not %d", location.Link.Stream, s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations[location.Link.SequenceNumber] = location
	return nil
}

// Location returns the storage location of a persisted segment.
func (s *ServerStream) Location(sqn types.SequenceNumber) (*types.StorageLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location, ok := s.locations[sqn]
	return location, ok
}

// SegmentCount returns the number of persisted segments.
func (s *ServerStream) SegmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}
