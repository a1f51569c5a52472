// Package arena owns frame-memory allocation for decoded frames.
//
// Ownership boundary:
// - bounded bump allocation over a caller-supplied buffer
// - unbounded per-object allocation when no buffer is configured
//
// Blocks handed out by a bounded Arena alias its buffer and are valid until
// Reset. Heap blocks are independent and survive Reset.
package arena

import (
	"errors"
	"math"
)

var ErrExhausted = errors.New("arena: exhausted")

// Allocator hands out storage for one frame's dynamic fields.
type Allocator interface {
	// Allocate returns a block of exactly size bytes, or false when the
	// request cannot be satisfied.
	Allocate(size int) ([]byte, bool)
	// Reset releases every block handed out since the previous Reset.
	Reset()
	// Used reports the bytes handed out since the previous Reset.
	Used() int
	// Cap reports the capacity, or -1 when unbounded.
	Cap() int
	// Owned reports whether blocks remain valid after Reset.
	Owned() bool
}

// Arena is a bump allocator over a fixed buffer. Allocation is monotonic
// until Reset; used never exceeds len(buf).
type Arena struct {
	buf  []byte
	used int
}

// New returns an arena backed by buf. The buffer is owned by the arena until
// the caller stops using every frame decoded through it.
func New(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// NewSize allocates a backing buffer of size bytes.
func NewSize(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return New(make([]byte, size))
}

func (a *Arena) Allocate(size int) ([]byte, bool) {
	if size < 0 || size > len(a.buf)-a.used {
		return nil, false
	}
	block := a.buf[a.used : a.used+size : a.used+size]
	a.used += size
	return block, true
}

func (a *Arena) Reset()      { a.used = 0 }
func (a *Arena) Used() int   { return a.used }
func (a *Arena) Cap() int    { return len(a.buf) }
func (a *Arena) Owned() bool { return false }

// Remaining reports how many bytes can still be allocated.
func (a *Arena) Remaining() int {
	return len(a.buf) - a.used
}

// Heap allocates every block independently. With MaxBlock zero it never
// refuses a request that fits in memory.
type Heap struct {
	// MaxBlock caps a single allocation when positive.
	MaxBlock int
	used     int
}

func NewHeap() *Heap {
	return &Heap{}
}

// NewHeapLimit returns a heap that refuses single blocks above maxBlock.
func NewHeapLimit(maxBlock int) *Heap {
	return &Heap{MaxBlock: maxBlock}
}

func (h *Heap) Allocate(size int) ([]byte, bool) {
	if size < 0 || (h.MaxBlock > 0 && size > h.MaxBlock) {
		return nil, false
	}
	h.used += size
	return make([]byte, size), true
}

func (h *Heap) Reset()      { h.used = 0 }
func (h *Heap) Used() int   { return h.used }
func (h *Heap) Cap() int    { return -1 }
func (h *Heap) Owned() bool { return true }

// BlockSize returns payloadLen+overhead, or false when the sum overflows or
// either operand is negative. An overflowing request must be treated as an
// allocation failure rather than allocating the wrapped size.
func BlockSize(payloadLen, overhead uint64) (int, bool) {
	total := payloadLen + overhead
	if total < payloadLen || total > math.MaxInt {
		return 0, false
	}
	return int(total), true
}
