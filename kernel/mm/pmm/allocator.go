// Package pmm implements the physical frame allocator. Available memory is
// carved into pools, one per usable region of the boot memory map; each pool
// tracks its frames through an arena of fixed-size records holding a
// reference count and a flag bitset. Allocation prefers the lowest free
// frame so freed frames are reused before fresh ones are drawn.
package pmm

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/hal/bootinfo"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/mm"
	kwsync "github.com/southwarridev/kewveOs/kernel/sync"
)

// FrameFlags is the per-frame flag bitset.
type FrameFlags uint8

const (
	// FlagFrameInUse marks a frame as allocated.
	FlagFrameInUse FrameFlags = 1 << iota

	// FlagFrameKernel marks a frame owned by the kernel (image, heap,
	// translation tables).
	FlagFrameKernel

	// FlagFrameUser marks a frame mapped into a user address space.
	FlagFrameUser
)

var (
	// ErrOutOfMemory is returned when no pool can satisfy an allocation.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory", Code: kernel.CodeOutOfMemory}

	// ErrDoubleFree is returned when deallocating a frame that is not
	// currently allocated.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is not currently allocated", Code: kernel.CodeDoubleFree}

	// ErrInvalidFrame is returned for frames outside every pool.
	ErrInvalidFrame = &kernel.Error{Module: "pmm", Message: "frame does not belong to any memory pool", Code: kernel.CodeInvalidHandle}

	errNotSeeded     = &kernel.Error{Module: "pmm", Message: "allocator has not been seeded from the boot memory map"}
	errAlreadySeeded = &kernel.Error{Module: "pmm", Message: "allocator is already seeded; the boot memory map is consumed exactly once"}
)

// frameRecord tracks the allocation state of a single physical frame.
type frameRecord struct {
	refCount uint16
	flags    FrameFlags
}

// framePool manages the frames of one usable memory region.
type framePool struct {
	// startFrame and endFrame delimit the pool; both ends are inclusive.
	startFrame mm.Frame
	endFrame   mm.Frame

	// freeCount tracks the available frames in this pool so the
	// allocator can skip fully allocated pools without scanning records.
	freeCount uint64

	// records holds one allocation record per frame; entry i corresponds
	// to frame (startFrame + i).
	records []frameRecord
}

// Stats summarizes allocator occupancy.
type Stats struct {
	TotalFrames    uint64
	ReservedFrames uint64
	FreeFrames     uint64
}

// Allocator is the physical frame allocator. All mutation of allocator
// state happens inside an interrupts-masked critical section so allocation
// calls made while servicing one interrupt cannot race with a concurrent
// call from the timer path.
type Allocator struct {
	lock *kwsync.IRQLock

	pools          []framePool
	totalFrames    uint64
	reservedFrames uint64
	seeded         bool
}

// NewAllocator returns an unseeded Allocator whose critical sections mask
// interrupts on the supplied platform.
func NewAllocator(plat hal.Platform) *Allocator {
	return &Allocator{lock: kwsync.NewIRQLock(plat)}
}

// Init seeds the allocator from the boot memory map. Reported region
// addresses may not be page-aligned; region starts are rounded up and ends
// rounded down so partial frames are never handed out. Frames overlapping
// the kernel image are pre-reserved. Init consumes the map exactly once;
// repeated calls fail.
func (a *Allocator) Init(bi *bootinfo.Info) *kernel.Error {
	if a.seeded {
		return errAlreadySeeded
	}

	for i := range bi.MemoryMap {
		region := &bi.MemoryMap[i]
		if region.Type != bootinfo.RegionAvailable {
			continue
		}

		startFrame := mm.FrameFromAddress((region.PhysAddress + mm.PageSize - 1) &^ uint64(mm.PageSize-1))
		endAddr := (region.PhysAddress + region.Length) &^ uint64(mm.PageSize-1)
		if endAddr <= startFrame.Address() {
			continue
		}
		endFrame := mm.FrameFromAddress(endAddr) - 1

		pool := framePool{
			startFrame: startFrame,
			endFrame:   endFrame,
			freeCount:  uint64(endFrame - startFrame + 1),
			records:    make([]frameRecord, endFrame-startFrame+1),
		}
		a.totalFrames += pool.freeCount
		a.pools = append(a.pools, pool)
	}

	a.seeded = true

	// The frames backing the kernel image are permanently reserved.
	for addr := bi.KernelStart &^ uint64(mm.PageSize-1); addr < bi.KernelEnd; addr += mm.PageSize {
		frame := mm.FrameFromAddress(addr)
		if rec, pool := a.record(frame); rec != nil && rec.refCount == 0 {
			rec.refCount = 1
			rec.flags = FlagFrameInUse | FlagFrameKernel
			pool.freeCount--
			a.reservedFrames++
		}
	}

	a.printMemoryMap(bi)
	return nil
}

// printMemoryMap logs the usable pools the way the boot allocator reports
// its memory map.
func (a *Allocator) printMemoryMap(bi *bootinfo.Info) {
	kfmt.Printf("[pmm] physical memory map:\n")
	for i := range bi.MemoryMap {
		region := &bi.MemoryMap[i]
		kfmt.Printf("[pmm]\t0x%10x - 0x%10x (%s)\n", region.PhysAddress, region.PhysAddress+region.Length, region.Type)
	}
	kfmt.Printf("[pmm] free frames: %d (%d KB)\n", a.totalFrames-a.reservedFrames, (a.totalFrames-a.reservedFrames)*mm.PageSize/1024)
}

// record locates the allocation record for frame, or nil if the frame lies
// outside every pool.
func (a *Allocator) record(frame mm.Frame) (*frameRecord, *framePool) {
	for i := range a.pools {
		pool := &a.pools[i]
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return &pool.records[frame-pool.startFrame], pool
		}
	}
	return nil, nil
}

// AllocFrame reserves the lowest free frame and tags it with flags.
func (a *Allocator) AllocFrame(flags FrameFlags) (mm.Frame, *kernel.Error) {
	frames, err := a.Allocate(1, flags)
	if err != nil {
		return mm.InvalidFrame, err
	}
	return frames[0], nil
}

// Allocate reserves count frames tagged with flags. The returned set is not
// necessarily contiguous; frames are picked lowest-first so recently freed
// frames are reissued before untouched ones. Allocation is all-or-nothing:
// if fewer than count frames are free, no frame is reserved and
// ErrOutOfMemory is returned.
func (a *Allocator) Allocate(count int, flags FrameFlags) ([]mm.Frame, *kernel.Error) {
	if !a.seeded {
		return nil, errNotSeeded
	}

	a.lock.Acquire()
	defer a.lock.Release()

	if uint64(count) > a.freeLocked() {
		return nil, ErrOutOfMemory
	}

	frames := make([]mm.Frame, 0, count)
	for i := range a.pools {
		pool := &a.pools[i]
		if pool.freeCount == 0 {
			continue
		}

		for recIndex := range pool.records {
			if len(frames) == count {
				return frames, nil
			}

			rec := &pool.records[recIndex]
			if rec.refCount != 0 {
				continue
			}

			rec.refCount = 1
			rec.flags = FlagFrameInUse | flags
			pool.freeCount--
			a.reservedFrames++
			frames = append(frames, pool.startFrame+mm.Frame(recIndex))
		}
	}

	return frames, nil
}

// Deallocate returns frames to the free set. Shared frames (reference count
// above one) are only released once their last reference drops. The call is
// all-or-nothing: if any frame is not currently allocated, no frame is
// released and ErrDoubleFree (or ErrInvalidFrame) is returned so the bug
// surfaces at the faulty call site.
func (a *Allocator) Deallocate(frames []mm.Frame) *kernel.Error {
	if !a.seeded {
		return errNotSeeded
	}

	a.lock.Acquire()
	defer a.lock.Release()

	for _, frame := range frames {
		rec, _ := a.record(frame)
		if rec == nil {
			return ErrInvalidFrame
		}
		if rec.refCount == 0 {
			return ErrDoubleFree
		}
	}

	for _, frame := range frames {
		rec, pool := a.record(frame)
		rec.refCount--
		if rec.refCount == 0 {
			rec.flags = 0
			pool.freeCount++
			a.reservedFrames--
		}
	}

	return nil
}

// AddRef increments the reference count of an allocated frame. It is the
// only path by which a frame may become part of an explicitly shared
// mapping; frames are otherwise owned by at most one address space.
func (a *Allocator) AddRef(frame mm.Frame) *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	rec, _ := a.record(frame)
	if rec == nil {
		return ErrInvalidFrame
	}
	if rec.refCount == 0 {
		return ErrDoubleFree
	}

	rec.refCount++
	return nil
}

// FrameFlags returns the flag bitset of a frame.
func (a *Allocator) FrameFlags(frame mm.Frame) (FrameFlags, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	rec, _ := a.record(frame)
	if rec == nil {
		return 0, ErrInvalidFrame
	}
	return rec.flags, nil
}

// Stats returns a snapshot of allocator occupancy.
func (a *Allocator) Stats() Stats {
	a.lock.Acquire()
	defer a.lock.Release()

	return Stats{
		TotalFrames:    a.totalFrames,
		ReservedFrames: a.reservedFrames,
		FreeFrames:     a.freeLocked(),
	}
}

// freeLocked returns the free frame count. Callers must hold the lock.
func (a *Allocator) freeLocked() uint64 {
	return a.totalFrames - a.reservedFrames
}
