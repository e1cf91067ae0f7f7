package util

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	snappy "github.com/segmentio/kafka-go/compress/snappy/go-xerial-snappy"
)

// A segment frame is the on-disk form of one trace segment payload:
//
//	magic u32 | codec u8 | reserved[3] | rawLen u32 | compressedLen u32 | data
//
// The header pins the codec the payload was written with, so a store
// written under one compression_type setting can be read back under
// another, and the raw length lets a reader size-check the payload
// before copying it into a buffer segment.
const (
	segmentFrameMagic = 0x43525453 // "STRC"

	// SegmentFrameHeaderSize is the fixed prefix before the payload.
	SegmentFrameHeaderSize = 16
)

type segmentCodec struct {
	id         byte
	compress   func([]byte) ([]byte, error)
	decompress func([]byte) ([]byte, error)
}

var segmentCodecs = map[string]segmentCodec{
	"none":   {id: 0, compress: passthrough, decompress: passthrough},
	"gzip":   {id: 1, compress: gzipCompress, decompress: gzipDecompress},
	"snappy": {id: 2, compress: snappyCompress, decompress: snappy.Decode},
	"lz4":    {id: 3, compress: lz4Compress, decompress: lz4Decompress},
}

func codecByID(id byte) (segmentCodec, bool) {
	for _, codec := range segmentCodecs {
		if codec.id == id {
			return codec, true
		}
	}
	return segmentCodec{}, false
}

// SegmentCodecSupported reports whether segment frames can be written
// with the given compression type.
func SegmentCodecSupported(compressionType string) bool {
	_, ok := segmentCodecs[compressionType]
	return ok
}

// CompressSegmentFrame compresses the valid portion of a segment
// payload and wraps it in a frame.
func CompressSegmentFrame(payload []byte, compressionType string) ([]byte, error) {
	codec, ok := segmentCodecs[compressionType]
	if !ok {
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}

	data, err := codec.compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compress segment payload: %w", err)
	}

	frame := make([]byte, SegmentFrameHeaderSize+len(data))
	binary.LittleEndian.PutUint32(frame[0:4], segmentFrameMagic)
	frame[4] = codec.id
	binary.LittleEndian.PutUint32(frame[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[12:16], uint32(len(data)))
	copy(frame[SegmentFrameHeaderSize:], data)

	return frame, nil
}

// DecompressSegmentFrame validates a segment frame and returns the raw
// payload. maxRawLen caps the declared payload size (normally the
// buffer's segment size) so a corrupted frame cannot balloon past a
// segment before the length check.
func DecompressSegmentFrame(frame []byte, maxRawLen int) ([]byte, error) {
	if len(frame) < SegmentFrameHeaderSize {
		return nil, fmt.Errorf("segment frame of %d bytes is too short", len(frame))
	}
	if binary.LittleEndian.Uint32(frame[0:4]) != segmentFrameMagic {
		return nil, fmt.Errorf("not a trace segment frame")
	}

	codec, ok := codecByID(frame[4])
	if !ok {
		return nil, fmt.Errorf("unknown segment codec id %d", frame[4])
	}

	rawLen := int(binary.LittleEndian.Uint32(frame[8:12]))
	compressedLen := int(binary.LittleEndian.Uint32(frame[12:16]))

	if rawLen > maxRawLen {
		return nil, fmt.Errorf("segment frame declares %d payload bytes, limit is %d",
			rawLen, maxRawLen)
	}
	if compressedLen != len(frame)-SegmentFrameHeaderSize {
		return nil, fmt.Errorf("segment frame is truncated: %d data bytes, header says %d",
			len(frame)-SegmentFrameHeaderSize, compressedLen)
	}

	raw, err := codec.decompress(frame[SegmentFrameHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("decompress segment payload: %w", err)
	}
	if len(raw) != rawLen {
		return nil, fmt.Errorf("segment payload decompressed to %d bytes, header says %d",
			len(raw), rawLen)
	}

	return raw, nil
}

func passthrough(data []byte) ([]byte, error) { return data, nil }

func snappyCompress(data []byte) ([]byte, error) {
	return snappy.Encode(data), nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(gr)
	if cerr := gr.Close(); err == nil {
		err = cerr
	}
	return raw, err
}

func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
