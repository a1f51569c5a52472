package arena

import (
	"math"
	"testing"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/testutil/testlog"
)

func TestArenaAllocateWithinCapacity(t *testing.T) {
	testlog.Start(t)
	a := NewSize(16)
	b1, ok := a.Allocate(10)
	if !ok || len(b1) != 10 {
		t.Fatalf("first allocation ok=%v len=%d", ok, len(b1))
	}
	b2, ok := a.Allocate(6)
	if !ok || len(b2) != 6 {
		t.Fatalf("second allocation ok=%v len=%d", ok, len(b2))
	}
	if a.Used() != 16 || a.Remaining() != 0 {
		t.Fatalf("unexpected used=%d remaining=%d", a.Used(), a.Remaining())
	}
	if _, ok := a.Allocate(1); ok {
		t.Fatalf("allocation past capacity must fail")
	}
	if a.Used() != 16 {
		t.Fatalf("failed allocation advanced used=%d", a.Used())
	}
}

func TestArenaBlocksDoNotOverlap(t *testing.T) {
	testlog.Start(t)
	a := NewSize(8)
	b1, _ := a.Allocate(4)
	b2, _ := a.Allocate(4)
	copy(b1, "aaaa")
	copy(b2, "bbbb")
	if string(b1) != "aaaa" || string(b2) != "bbbb" {
		t.Fatalf("blocks overlap: %q %q", b1, b2)
	}
	if cap(b1) != 4 {
		t.Fatalf("block capacity leaks into neighbour: cap=%d", cap(b1))
	}
}

func TestArenaResetReusesBuffer(t *testing.T) {
	testlog.Start(t)
	a := NewSize(4)
	if _, ok := a.Allocate(4); !ok {
		t.Fatalf("allocate full buffer")
	}
	a.Reset()
	if a.Used() != 0 {
		t.Fatalf("reset left used=%d", a.Used())
	}
	if _, ok := a.Allocate(4); !ok {
		t.Fatalf("allocate after reset")
	}
}

func TestArenaRejectsNegativeSize(t *testing.T) {
	testlog.Start(t)
	a := NewSize(4)
	if _, ok := a.Allocate(-1); ok {
		t.Fatalf("negative size must fail")
	}
	if _, ok := NewHeap().Allocate(-1); ok {
		t.Fatalf("heap negative size must fail")
	}
}

func TestHeapAlwaysAllocates(t *testing.T) {
	testlog.Start(t)
	h := NewHeap()
	b, ok := h.Allocate(1 << 16)
	if !ok || len(b) != 1<<16 {
		t.Fatalf("heap allocation ok=%v len=%d", ok, len(b))
	}
	if h.Cap() != -1 || !h.Owned() {
		t.Fatalf("heap must be unbounded and owned")
	}
	if NewSize(1).Owned() {
		t.Fatalf("arena blocks are borrowed")
	}
}

func TestBlockSizeOverflow(t *testing.T) {
	testlog.Start(t)
	if n, ok := BlockSize(10, 32); !ok || n != 42 {
		t.Fatalf("BlockSize(10,32)=%d,%v", n, ok)
	}
	if _, ok := BlockSize(math.MaxUint64-4, 32); ok {
		t.Fatalf("wrapped sum must fail")
	}
	if _, ok := BlockSize(uint64(math.MaxInt), 1); ok {
		t.Fatalf("sum beyond MaxInt must fail")
	}
}

func TestHeapLimitRefusesLargeBlocks(t *testing.T) {
	testlog.Start(t)
	h := NewHeapLimit(8)
	if _, ok := h.Allocate(9); ok {
		t.Fatalf("block above limit must fail")
	}
	if _, ok := h.Allocate(8); !ok {
		t.Fatalf("block at limit must succeed")
	}
}
