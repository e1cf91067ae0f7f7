package util_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/gaasedelen/simutrace/util"
)

// entryPayload builds a payload of n fixed-size entries, the shape the
// encoder hands to the frame codec.
func entryPayload(n, entrySize int) []byte {
	payload := make([]byte, n*entrySize)
	for i := range payload {
		payload[i] = byte(i/entrySize + i%entrySize)
	}
	return payload
}

func TestSegmentFrameRoundTrip(t *testing.T) {
	payload := entryPayload(100, 8)

	for _, compression := range []string{"none", "gzip", "snappy", "lz4"} {
		t.Run(compression, func(t *testing.T) {
			frame, err := util.CompressSegmentFrame(payload, compression)
			if err != nil {
				t.Fatalf("CompressSegmentFrame: %v", err)
			}
			if len(frame) < util.SegmentFrameHeaderSize {
				t.Fatalf("frame of %d bytes has no room for a header", len(frame))
			}

			raw, err := util.DecompressSegmentFrame(frame, len(payload))
			if err != nil {
				t.Fatalf("DecompressSegmentFrame: %v", err)
			}
			if !bytes.Equal(payload, raw) {
				t.Errorf("roundtrip mismatch for %q", compression)
			}
		})
	}
}

// TestSegmentFrameCodecPinnedInHeader: the reader never names a codec;
// the frame header decides. A store written with one compression
// setting stays readable after the setting changes.
func TestSegmentFrameCodecPinnedInHeader(t *testing.T) {
	payload := entryPayload(50, 16)

	frame, err := util.CompressSegmentFrame(payload, "gzip")
	if err != nil {
		t.Fatalf("CompressSegmentFrame: %v", err)
	}

	raw, err := util.DecompressSegmentFrame(frame, len(payload))
	if err != nil {
		t.Fatalf("DecompressSegmentFrame: %v", err)
	}
	if !bytes.Equal(payload, raw) {
		t.Error("payload corrupted across codecs")
	}
}

func TestSegmentFrameValidation(t *testing.T) {
	payload := entryPayload(10, 8)
	frame, err := util.CompressSegmentFrame(payload, "none")
	if err != nil {
		t.Fatalf("CompressSegmentFrame: %v", err)
	}

	corrupt := func(mutate func([]byte)) []byte {
		bad := append([]byte(nil), frame...)
		mutate(bad)
		return bad
	}

	tests := []struct {
		name  string
		frame []byte
		max   int
	}{
		{"too short", frame[:8], len(payload)},
		{"bad magic", corrupt(func(b []byte) { b[0] ^= 0xFF }), len(payload)},
		{"unknown codec", corrupt(func(b []byte) { b[4] = 0x7F }), len(payload)},
		{"truncated payload", frame[:len(frame)-1], len(payload)},
		{"payload over segment size", frame, len(payload) - 1},
		{"raw length mismatch", corrupt(func(b []byte) { b[8]++ }), len(payload) + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := util.DecompressSegmentFrame(tt.frame, tt.max); err == nil {
				t.Errorf("corrupted frame was accepted")
			}
		})
	}

	// The pristine frame still decodes after all that.
	if _, err := util.DecompressSegmentFrame(frame, len(payload)); err != nil {
		t.Fatalf("pristine frame rejected: %v", err)
	}
}

func TestSegmentCodecSupported(t *testing.T) {
	for _, compression := range []string{"none", "gzip", "snappy", "lz4"} {
		if !util.SegmentCodecSupported(compression) {
			t.Errorf("%q should be supported", compression)
		}
	}
	for _, compression := range []string{"", "zstd", "LZ4"} {
		if util.SegmentCodecSupported(compression) {
			t.Errorf("%q should not be supported", compression)
		}
	}

	if _, err := util.CompressSegmentFrame(entryPayload(1, 8), "zstd"); err == nil {
		t.Error("compressing with an unsupported codec succeeded")
	}
}

// TestSegmentFrameConcurrent verifies the codecs are safe to use from
// many encoder goroutines at once.
func TestSegmentFrameConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := entryPayload(20+i, 8)
			for _, compression := range []string{"none", "gzip", "snappy", "lz4"} {
				frame, err := util.CompressSegmentFrame(payload, compression)
				if err != nil {
					t.Errorf("compress %s: %v", compression, err)
					return
				}
				raw, err := util.DecompressSegmentFrame(frame, len(payload))
				if err != nil {
					t.Errorf("decompress %s: %v", compression, err)
					return
				}
				if !bytes.Equal(payload, raw) {
					t.Errorf("roundtrip mismatch for %s", compression)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
