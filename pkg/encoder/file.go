package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/gaasedelen/simutrace/pkg/buffer"
	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/types"
	"github.com/gaasedelen/simutrace/util"
)

// FileEncoder persists segments of one stream as compressed frame
// files under the store directory. The storage location itself is kept
// by the stream layer; a file carries only the framed payload. All
// operations complete synchronously.
type FileEncoder struct {
	dir         string
	stream      types.StreamID
	desc        types.StreamTypeDescriptor
	compression string

	mu      sync.Mutex
	readers map[types.SequenceNumber]*mmap.ReaderAt
	holes   map[types.SequenceNumber]bool
}

// NewFileEncoder creates an encoder writing into the configured store
// directory. The directory is created if missing.
func NewFileEncoder(cfg *config.Config, stream types.StreamID,
	desc types.StreamTypeDescriptor) (*FileEncoder, error) {

	if !util.SegmentCodecSupported(cfg.CompressionType) {
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.CompressionType)
	}

	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", cfg.StoreDir, err)
	}

	return &FileEncoder{
		dir:         cfg.StoreDir,
		stream:      stream,
		desc:        desc,
		compression: cfg.CompressionType,
		readers:     make(map[types.SequenceNumber]*mmap.ReaderAt),
		holes:       make(map[types.SequenceNumber]bool),
	}, nil
}

func (e *FileEncoder) segmentPath(sqn types.SequenceNumber) string {
	return filepath.Join(e.dir, fmt.Sprintf("stream_%d_segment_%d.trace", e.stream, sqn))
}

// validLength returns the byte count the entry count covers, capped at
// the segment payload size.
func (e *FileEncoder) validLength(rawEntryCount uint32, payloadLen int) int {
	validLen := int(e.desc.EntrySize) * int(rawEntryCount)
	if validLen > payloadLen {
		validLen = payloadLen
	}
	return validLen
}

// Write persists the submitted segment and returns its storage
// location.
func (e *FileEncoder) Write(buf *buffer.StreamBuffer, id types.SegmentID) (bool, *types.StorageLocation, error) {
	ctrl, err := buf.ControlElement(id)
	if err != nil {
		return false, nil, err
	}

	payload, err := buf.Segment(id)
	if err != nil {
		return false, nil, err
	}

	validLen := e.validLength(ctrl.RawEntryCount, len(payload))

	frame, err := util.CompressSegmentFrame(payload[:validLen], e.compression)
	if err != nil {
		return false, nil, fmt.Errorf("encode segment: %w", err)
	}
	compressedLen := len(frame) - util.SegmentFrameHeaderSize

	path := e.segmentPath(ctrl.Link.SequenceNumber)
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return false, nil, fmt.Errorf("write %s: %w", path, err)
	}

	util.Debug("Encoded segment %d <stream: %d, sqn: %d, raw: %d, compressed: %d>.",
		id, e.stream, ctrl.Link.SequenceNumber, validLen, compressedLen)

	location := types.NewStorageLocation(ctrl)
	location.CompressedSize = uint64(compressedLen)

	return true, location, nil
}

// Read fills the segment's payload from the persisted frame described
// by the location.
func (e *FileEncoder) Read(buf *buffer.StreamBuffer, id types.SegmentID,
	flags types.StreamAccessFlags, location *types.StorageLocation, prefetch bool) (bool, error) {

	reader, err := e.reader(location.Link.SequenceNumber)
	if err != nil {
		return false, err
	}

	frame := make([]byte, reader.Len())
	if _, err := reader.ReadAt(frame, 0); err != nil {
		return false, fmt.Errorf("read segment frame: %w", err)
	}

	payload, err := buf.Segment(id)
	if err != nil {
		return false, err
	}

	raw, err := util.DecompressSegmentFrame(frame, len(payload))
	if err != nil {
		return false, fmt.Errorf("segment frame for stream %d sqn %d: %w",
			e.stream, location.Link.SequenceNumber, err)
	}

	// The payload must cover exactly the entries the location
	// promises; anything else means the file does not belong to this
	// location.
	if want := e.validLength(location.RawEntryCount, len(payload)); len(raw) != want {
		return false, fmt.Errorf("segment for stream %d sqn %d holds %d payload bytes, "+
			"location expects %d", e.stream, location.Link.SequenceNumber, len(raw), want)
	}
	copy(payload, raw)

	util.Debug("Decoded segment %d <stream: %d, sqn: %d, raw: %d>.",
		id, e.stream, location.Link.SequenceNumber, len(raw))

	return true, nil
}

// Drop records a hole for a sequence number that was submitted without
// entries.
func (e *FileEncoder) Drop(buf *buffer.StreamBuffer, id types.SegmentID) error {
	ctrl, err := buf.ControlElement(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.holes[ctrl.Link.SequenceNumber] = true
	e.mu.Unlock()

	util.Debug("Recorded hole for stream %d <sqn: %d>.", e.stream, ctrl.Link.SequenceNumber)
	return nil
}

// IsHole reports whether the sequence number was dropped.
func (e *FileEncoder) IsHole(sqn types.SequenceNumber) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holes[sqn]
}

// NotifySegmentCacheClosed releases the reader kept open for the
// cached segment.
func (e *FileEncoder) NotifySegmentCacheClosed(sqn types.SequenceNumber) {
	e.mu.Lock()
	reader := e.readers[sqn]
	delete(e.readers, sqn)
	e.mu.Unlock()

	if reader != nil {
		if err := reader.Close(); err != nil {
			util.Error("failed to close reader for sqn %d: %v", sqn, err)
		}
	}
}

func (e *FileEncoder) reader(sqn types.SequenceNumber) (*mmap.ReaderAt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reader, ok := e.readers[sqn]; ok {
		return reader, nil
	}

	path := e.segmentPath(sqn)
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap open %s: %w", path, err)
	}

	e.readers[sqn] = reader
	return reader, nil
}

// Close releases all cached readers.
func (e *FileEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for sqn, reader := range e.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.readers, sqn)
	}
	return firstErr
}
