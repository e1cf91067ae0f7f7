package store

import (
	"fmt"
	"sync"

	"github.com/gaasedelen/simutrace/pkg/buffer"
	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/encoder"
	"github.com/gaasedelen/simutrace/pkg/stream"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

// Store owns the streams of one trace and the stream buffer backing
// them. Streams share the buffer; their persisted segments live under
// the configured store directory.
type Store struct {
	id   types.StoreID
	name string
	cfg  *config.Config

	buffer *buffer.StreamBuffer

	mu       sync.RWMutex
	streams  map[types.StreamID]*stream.ServerStream
	encoders map[types.StreamID]*encoder.FileEncoder
	nextID   types.StreamID

	closeOnce sync.Once
	closeErr  error
}

func NewStore(cfg *config.Config, id types.StoreID, name string) (*Store, error) {
	if id == types.InvalidStoreID {
		return nil, fmt.Errorf("invalid store id")
	}

	buf, err := buffer.New(cfg, types.BufferID(id), cfg.SegmentSize, cfg.PoolSize,
		cfg.SharedMemory)
	if err != nil {
		return nil, fmt.Errorf("create stream buffer for store %s: %w", name, err)
	}

	util.Info("Created store %q <id: %d, segments: %d x %d bytes>.",
		name, id, cfg.PoolSize, cfg.SegmentSize)

	return &Store{
		id:       id,
		name:     name,
		cfg:      cfg,
		buffer:   buf,
		streams:  make(map[types.StreamID]*stream.ServerStream),
		encoders: make(map[types.StreamID]*encoder.FileEncoder),
	}, nil
}

func (s *Store) ID() types.StoreID            { return s.id }
func (s *Store) Name() string                 { return s.name }
func (s *Store) Buffer() *buffer.StreamBuffer { return s.buffer }

// CreateStream registers a new stream of the given type and wires its
// encoder.
func (s *Store) CreateStream(desc types.StreamTypeDescriptor) (*stream.ServerStream, error) {
	if desc.EntrySize == 0 {
		return nil, fmt.Errorf("stream type %q has no entry size", desc.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	enc, err := encoder.NewFileEncoder(s.cfg, id, desc)
	if err != nil {
		return nil, fmt.Errorf("create encoder for stream %d: %w", id, err)
	}

	st := stream.New(id, s.id, desc, enc)
	s.streams[id] = st
	s.encoders[id] = enc

	util.Debug("Created stream %d in store %q <type: %s, entry size: %d>.",
		id, s.name, desc.Name, desc.EntrySize)

	return st, nil
}

// Stream returns a registered stream.
func (s *Store) Stream(id types.StreamID) (*stream.ServerStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[id]
	return st, ok
}

// Close flushes this store's cached segments and releases the buffer
// and all encoders.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.buffer.FlushStandbyList(s.id)

		s.mu.Lock()
		for id, enc := range s.encoders {
			if err := enc.Close(); err != nil {
				util.Error("failed to close encoder for stream %d: %v", id, err)
			}
		}
		s.mu.Unlock()

		s.closeErr = s.buffer.Close()
	})

	return s.closeErr
}
