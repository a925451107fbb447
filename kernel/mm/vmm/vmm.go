// Package vmm implements the virtual memory manager: an arena of address
// spaces keyed by integer handles, each mapping virtual pages to physical
// frames with explicit permissions. Page faults are routed here first and
// escalate to process termination only when they cannot be resolved.
package vmm

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
	kwsync "github.com/southwarridev/kewveOs/kernel/sync"
)

var (
	// ErrAlreadyMapped is returned when a map request overlaps an
	// existing mapping and the replace flag is not set.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual range overlaps an existing mapping", Code: kernel.CodeAlreadyMapped}

	// ErrNotMapped is returned when unmapping or translating a range
	// that is not mapped. Unmapping an unmapped range is an error rather
	// than a silent success so bugs are surfaced.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual range is not mapped", Code: kernel.CodeNotMapped}

	// ErrInvalidSpace is returned for handles that name no live address
	// space.
	ErrInvalidSpace = &kernel.Error{Module: "vmm", Message: "handle names no live address space", Code: kernel.CodeInvalidHandle}

	// errUnresolvableFault reports a fault address outside every valid
	// region of the faulting address space.
	errUnresolvableFault = &kernel.Error{Module: "vmm", Message: "page fault outside any valid region"}
)

// Manager owns the address-space arena.
type Manager struct {
	lock   *kwsync.IRQLock
	plat   hal.Platform
	frames *pmm.Allocator

	spaces     map[Handle]*AddressSpace
	nextHandle Handle
}

// NewManager returns a Manager drawing frames from the supplied allocator.
func NewManager(plat hal.Platform, frames *pmm.Allocator) *Manager {
	return &Manager{
		lock:   kwsync.NewIRQLock(plat),
		plat:   plat,
		frames: frames,
		spaces: make(map[Handle]*AddressSpace),
	}
}

// Create allocates an empty address space backed by a fresh translation
// root frame and returns its handle.
func (m *Manager) Create() (Handle, *kernel.Error) {
	root, err := m.frames.AllocFrame(pmm.FlagFrameKernel)
	if err != nil {
		return 0, err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	m.nextHandle++
	space := &AddressSpace{
		handle: m.nextHandle,
		root:   root,
		pages:  make(map[mm.Page]mapping),
	}
	m.spaces[space.handle] = space

	return space.handle, nil
}

// Space returns the address space named by h.
func (m *Manager) Space(h Handle) (*AddressSpace, *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	space := m.spaces[h]
	if space == nil {
		return nil, ErrInvalidSpace
	}
	return space, nil
}

// SetHeapRegion and SetStackRegion record the region bounds whose pages the
// fault path may populate on demand.
func (m *Manager) SetHeapRegion(h Handle, region Region) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}
	space.heap = region
	return nil
}

// SetStackRegion records the stack bounds of an address space.
func (m *Manager) SetStackRegion(h Handle, region Region) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}
	space.stack = region
	return nil
}

// Activate installs the address space's translation root into the platform
// translation-root register. The scheduler invokes it on context switch.
func (m *Manager) Activate(h Handle) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}

	m.plat.WriteControlReg(hal.RegTranslationRoot, space.root.Address())
	return nil
}

// Destroy tears down an address space: every mapped frame and the
// translation root are returned to the frame allocator and the handle is
// retired. Teardown releases resources on every path; a frame the
// allocator refuses to take back indicates corrupted allocator state, which
// is fatal.
func (m *Manager) Destroy(h Handle) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}

	m.lock.Acquire()
	delete(m.spaces, h)
	frames := make([]mm.Frame, 0, len(space.pages)+1)
	for page, mapping := range space.pages {
		frames = append(frames, mapping.frame)
		delete(space.pages, page)
	}
	frames = append(frames, space.root)
	m.lock.Release()

	if err := m.frames.Deallocate(frames); err != nil {
		kernel.Panic(err)
	}

	return nil
}
