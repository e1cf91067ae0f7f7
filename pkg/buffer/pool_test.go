package buffer

import (
	"errors"
	"testing"

	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/types"
)

func TestNewValidation(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, RetrySleepMS: 1}

	if _, err := New(cfg, types.InvalidBufferID, 4096, 2, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("invalid buffer id: err = %v", err)
	}
	if _, err := New(cfg, 0, 16, 2, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("tiny segment size: err = %v", err)
	}
	if _, err := New(cfg, 0, 4096, 0, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero segments: err = %v", err)
	}
}

func TestBufferLayout(t *testing.T) {
	buf := internalTestBuffer(t, 3)

	if got, want := buf.BufferSize(), 3*(4096+controlStride); got != want {
		t.Errorf("BufferSize = %d, want %d", got, want)
	}
	if buf.SegmentSize() != 4096 || buf.NumSegments() != 3 {
		t.Errorf("geometry mismatch: %d x %d", buf.NumSegments(), buf.SegmentSize())
	}

	// Payload slices must be disjoint from each other and from the
	// control area.
	p0, err := buf.Segment(0)
	if err != nil {
		t.Fatalf("Segment(0): %v", err)
	}
	p1, _ := buf.Segment(1)

	for i := range p0 {
		p0[i] = 0xAA
	}
	for _, c := range p1 {
		if c == 0xAA {
			t.Fatalf("segment 1 aliases segment 0")
		}
	}

	ctrl := types.SegmentControlElement{Link: types.NewStreamSegmentLink(1, 2)}
	if err := buf.PutControlElement(1, &ctrl); err != nil {
		t.Fatalf("PutControlElement: %v", err)
	}
	for _, c := range p0 {
		if c != 0xAA {
			t.Fatalf("control write leaked into segment 0 payload")
		}
	}

	got, err := buf.ControlElement(1)
	if err != nil {
		t.Fatalf("ControlElement: %v", err)
	}
	if got.Link != ctrl.Link {
		t.Errorf("control roundtrip: got %+v", got.Link)
	}

	if _, err := buf.Segment(3); !errors.Is(err, ErrSegmentOutOfRange) {
		t.Errorf("out-of-range Segment: err = %v", err)
	}
	if _, err := buf.ControlElement(3); !errors.Is(err, ErrSegmentOutOfRange) {
		t.Errorf("out-of-range ControlElement: err = %v", err)
	}
}

func TestSanityPatterns(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, RetrySleepMS: 1, SanityChecks: true}
	buf, err := New(cfg, 0, 4096, 2, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Close()

	payload, _ := buf.Segment(0)
	for _, c := range payload {
		if c != deadFill {
			t.Fatalf("fresh segment payload not dead-filled: %#x", c)
		}
	}

	if level := buf.sanityCheck(0, 0); level != 0 {
		t.Errorf("clean dead segment reported level %d", level)
	}

	// A wild write into a free segment must be detected.
	payload[100] = 0x42
	if level := buf.sanityCheck(0, 0); level != 1 {
		t.Errorf("payload corruption reported level %d, want 1", level)
	}
	payload[100] = deadFill

	// A fence overwrite is the most severe corruption.
	buf.fenceBytes(0)[0] = 0x42
	if level := buf.sanityCheck(0, 0); level != 2 {
		t.Errorf("fence corruption reported level %d, want 2", level)
	}
	buf.fenceBytes(0)[0] = fenceFill
}

func TestCloseReportsLeaks(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, RetrySleepMS: 1}
	buf, err := New(cfg, 0, 4096, 2, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seg := buf.dequeueFromFreeList()
	if seg == nil {
		t.Fatal("dequeue returned nil")
	}

	if err := buf.Close(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Close with a held segment: err = %v", err)
	}

	// Close is sticky: the same result on repeat.
	if err := buf.Close(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("second Close: err = %v", err)
	}
}

func TestCloseClean(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, RetrySleepMS: 1}
	buf, err := New(cfg, 0, 4096, 2, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := buf.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
