// Package kheap provides a bounded general-purpose allocator carved out of
// a reserved virtual region. It serves kernel-internal dynamic structures
// only; user memory always goes through the frame allocator and the virtual
// memory manager. Exhaustion is a recoverable condition reported to the
// caller, never a reason to bring the kernel down.
package kheap

import (
	"io"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	kwsync "github.com/southwarridev/kewveOs/kernel/sync"
)

const (
	// DefaultSize is the heap size used when the boot configuration does
	// not override it.
	DefaultSize = 1 << 20

	// blockAlign is the allocation granularity. Every block offset and
	// size is a multiple of this value.
	blockAlign = 16
)

var (
	// ErrOutOfMemory is returned when no free block can satisfy an
	// allocation request.
	ErrOutOfMemory = &kernel.Error{Module: "kheap", Message: "heap space exhausted", Code: kernel.CodeOutOfMemory}

	// ErrDoubleFree is returned when freeing an address that does not
	// name a live allocation.
	ErrDoubleFree = &kernel.Error{Module: "kheap", Message: "free of address without live allocation", Code: kernel.CodeDoubleFree}

	errBadRegion = &kernel.Error{Module: "kheap", Message: "heap region is empty or misaligned"}
	errBadSize   = &kernel.Error{Module: "kheap", Message: "allocation size must be non-zero"}
)

// block is one bookkeeping record in the heap's ordered block list. Blocks
// partition the managed region exactly: the first block starts at offset 0
// and each block starts where its predecessor ends.
type block struct {
	offset uint64
	size   uint64
	free   bool
}

// Stats describes the heap's current occupancy.
type Stats struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
	Allocs     uint64
	Frees      uint64
}

// Heap is a bounded first-fit allocator over a reserved virtual region.
// All methods are safe to call from interrupt handlers.
type Heap struct {
	lock *kwsync.IRQLock

	base uint64
	size uint64

	// blocks is kept sorted by offset so freeing can coalesce a block
	// with its immediate neighbors.
	blocks []block

	used   uint64
	allocs uint64
	frees  uint64
}

// NewHeap creates a heap managing size bytes of the virtual region that
// begins at base. Both base and size must be multiples of the allocation
// granularity.
func NewHeap(plat hal.Platform, base, size uint64) (*Heap, *kernel.Error) {
	if size == 0 || base%blockAlign != 0 || size%blockAlign != 0 {
		return nil, errBadRegion
	}

	return &Heap{
		lock:   kwsync.NewIRQLock(plat),
		base:   base,
		size:   size,
		blocks: []block{{offset: 0, size: size, free: true}},
	}, nil
}

// Alloc reserves size bytes and returns the address of the reservation.
// The request is rounded up to the allocation granularity. When no free
// block is large enough Alloc fails with ErrOutOfMemory; the heap stays
// usable and the caller decides how to proceed.
func (h *Heap) Alloc(size uint64) (uint64, *kernel.Error) {
	if size == 0 {
		return 0, errBadSize
	}

	if rem := size % blockAlign; rem != 0 {
		size += blockAlign - rem
	}

	h.lock.Acquire()
	defer h.lock.Release()

	for i := range h.blocks {
		b := &h.blocks[i]
		if !b.free || b.size < size {
			continue
		}

		if b.size > size {
			// Split the block, keeping the remainder free.
			rest := block{offset: b.offset + size, size: b.size - size, free: true}
			b.size = size
			h.blocks = append(h.blocks, block{})
			copy(h.blocks[i+2:], h.blocks[i+1:])
			h.blocks[i+1] = rest
		}

		b.free = false
		h.used += b.size
		h.allocs++
		return h.base + b.offset, nil
	}

	return 0, ErrOutOfMemory
}

// Free releases the allocation at addr. Freeing an address that is not the
// start of a live allocation fails with ErrDoubleFree. Adjacent free blocks
// are merged so the region does not fragment permanently.
func (h *Heap) Free(addr uint64) *kernel.Error {
	if addr < h.base || addr >= h.base+h.size {
		return ErrDoubleFree
	}
	offset := addr - h.base

	h.lock.Acquire()
	defer h.lock.Release()

	for i := range h.blocks {
		b := &h.blocks[i]
		if b.offset != offset {
			continue
		}
		if b.free {
			return ErrDoubleFree
		}

		b.free = true
		h.used -= b.size
		h.frees++
		h.coalesce(i)
		return nil
	}

	return ErrDoubleFree
}

// coalesce merges the free block at index i with its free neighbors. Caller
// must hold the lock.
func (h *Heap) coalesce(i int) {
	// Merge with the following block first so i stays valid.
	if i+1 < len(h.blocks) && h.blocks[i+1].free {
		h.blocks[i].size += h.blocks[i+1].size
		h.blocks = append(h.blocks[:i+1], h.blocks[i+2:]...)
	}

	if i > 0 && h.blocks[i-1].free {
		h.blocks[i-1].size += h.blocks[i].size
		h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
	}
}

// Stats returns a snapshot of the heap's occupancy counters.
func (h *Heap) Stats() Stats {
	h.lock.Acquire()
	defer h.lock.Release()

	return Stats{
		TotalBytes: h.size,
		UsedBytes:  h.used,
		FreeBytes:  h.size - h.used,
		Allocs:     h.allocs,
		Frees:      h.frees,
	}
}

// DumpTo writes the heap occupancy summary to w.
func (h *Heap) DumpTo(w io.Writer) {
	s := h.Stats()
	kfmt.Fprintf(w, "[kheap] region 0x%x - 0x%x, %d/%d bytes in use (%d allocs, %d frees)\n",
		h.base, h.base+h.size, s.UsedBytes, s.TotalBytes, s.Allocs, s.Frees)
}
