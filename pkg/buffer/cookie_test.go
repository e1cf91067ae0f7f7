package buffer

import (
	"testing"

	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/types"
)

func internalTestBuffer(t *testing.T, numSegments int) *StreamBuffer {
	t.Helper()

	cfg := &config.Config{RetryCount: 2, RetrySleepMS: 1}
	buf, err := New(cfg, 0, 4096, numSegments, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { buf.Close() })

	return buf
}

// TestWritableCookieCoversStableFields: for writable segments only the
// owner identity and creation time are protected; the entry counts
// belong to the client.
func TestWritableCookieCoversStableFields(t *testing.T) {
	buf := internalTestBuffer(t, 2)
	seg := &buf.segments[0]
	seg.flags = sgfInUse
	t.Cleanup(func() { seg.flags = sgfFree })

	ctrl := types.SegmentControlElement{
		Link:      types.NewStreamSegmentLink(3, 7),
		StartTime: 1234,
	}
	base := buf.computeControlCookie(&ctrl, seg)

	ctrl.EntryCount = 55
	ctrl.RawEntryCount = 55
	ctrl.EndCycle = 99
	if got := buf.computeControlCookie(&ctrl, seg); got != base {
		t.Errorf("writable cookie changed with client fields: %x != %x", got, base)
	}

	ctrl.Link.SequenceNumber = 8
	if got := buf.computeControlCookie(&ctrl, seg); got == base {
		t.Errorf("writable cookie did not change with the link")
	}
	ctrl.Link.SequenceNumber = 7

	ctrl.StartTime = 1235
	if got := buf.computeControlCookie(&ctrl, seg); got == base {
		t.Errorf("writable cookie did not change with startTime")
	}
}

// TestReadOnlyCookieCoversWholeElement: once read-only, every field is
// server-owned and protected.
func TestReadOnlyCookieCoversWholeElement(t *testing.T) {
	buf := internalTestBuffer(t, 2)
	seg := &buf.segments[0]
	seg.flags = sgfInUse | sgfReadOnly
	t.Cleanup(func() { seg.flags = sgfFree })

	ctrl := types.SegmentControlElement{
		Link:          types.NewStreamSegmentLink(3, 7),
		EntryCount:    10,
		RawEntryCount: 10,
		StartTime:     1234,
		EndTime:       5678,
	}
	base := buf.computeControlCookie(&ctrl, seg)

	mutations := []func(*types.SegmentControlElement){
		func(c *types.SegmentControlElement) { c.EntryCount++ },
		func(c *types.SegmentControlElement) { c.RawEntryCount++ },
		func(c *types.SegmentControlElement) { c.StartIndex++ },
		func(c *types.SegmentControlElement) { c.StartCycle++ },
		func(c *types.SegmentControlElement) { c.EndCycle++ },
		func(c *types.SegmentControlElement) { c.EndTime++ },
	}

	for i, mutate := range mutations {
		probe := ctrl
		mutate(&probe)
		if got := buf.computeControlCookie(&probe, seg); got == base {
			t.Errorf("mutation %d did not change the read-only cookie", i)
		}
	}

	// The upper half stays the base tag; only the low 32 bits carry
	// the hash.
	seg.flags = sgfInUse
	writable := buf.computeControlCookie(&ctrl, seg)
	seg.flags = sgfInUse | sgfReadOnly
	if base>>32 != writable>>32 {
		t.Errorf("read-only cookie upper half is not stable")
	}
}

// TestCookieDistinctPerSegment: the same control element yields
// different cookies on different slots.
func TestCookieDistinctPerSegment(t *testing.T) {
	buf := internalTestBuffer(t, 2)
	ctrl := types.SegmentControlElement{
		Link:      types.NewStreamSegmentLink(1, 1),
		StartTime: 42,
	}

	buf.segments[0].flags = sgfInUse
	buf.segments[1].flags = sgfInUse
	t.Cleanup(func() {
		buf.segments[0].flags = sgfFree
		buf.segments[1].flags = sgfFree
	})

	c0 := buf.computeControlCookie(&ctrl, &buf.segments[0])
	c1 := buf.computeControlCookie(&ctrl, &buf.segments[1])
	if c0 == c1 {
		t.Errorf("cookie does not depend on the segment id")
	}
}
