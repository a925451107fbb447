package vmm

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/mm"
)

// Map establishes mappings from the pages starting at start to the supplied
// frames, one page per frame, with the requested permissions. The call is
// all-or-nothing: if any page in the range is already mapped and FlagReplace
// is not set, no mapping is touched and ErrAlreadyMapped is returned. With
// FlagReplace, frames previously backing replaced pages are released.
func (m *Manager) Map(h Handle, start mm.Page, frames []mm.Frame, flags PageFlags) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	if flags&FlagReplace == 0 {
		for i := range frames {
			if _, exists := space.pages[start+mm.Page(i)]; exists {
				return ErrAlreadyMapped
			}
		}
	}

	var replaced []mm.Frame
	for i, frame := range frames {
		page := start + mm.Page(i)
		if old, exists := space.pages[page]; exists {
			replaced = append(replaced, old.frame)
		}
		space.pages[page] = mapping{frame: frame, flags: flags &^ FlagReplace}
	}

	if len(replaced) != 0 {
		if err := m.frames.Deallocate(replaced); err != nil {
			kernel.Panic(err)
		}
	}

	return nil
}

// Unmap removes count consecutive mappings starting at start and returns
// the backing frames to the allocator. The call is all-or-nothing:
// unmapping a range containing an unmapped page fails with ErrNotMapped
// without removing anything.
func (m *Manager) Unmap(h Handle, start mm.Page, count int) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	for i := 0; i < count; i++ {
		if _, exists := space.pages[start+mm.Page(i)]; !exists {
			return ErrNotMapped
		}
	}

	frames := make([]mm.Frame, count)
	for i := 0; i < count; i++ {
		page := start + mm.Page(i)
		frames[i] = space.pages[page].frame
		delete(space.pages, page)
	}

	if err := m.frames.Deallocate(frames); err != nil {
		kernel.Panic(err)
	}

	return nil
}

// Translate resolves a virtual address in the given address space to the
// physical address it maps to.
func (m *Manager) Translate(h Handle, virtAddr uint64) (uint64, *kernel.Error) {
	space, err := m.Space(h)
	if err != nil {
		return 0, err
	}

	page := mm.PageFromAddress(virtAddr)
	entry, exists := space.pages[page]
	if !exists {
		return 0, ErrNotMapped
	}

	offset := virtAddr & (mm.PageSize - 1)
	return entry.frame.Address() | offset, nil
}

// PageFlagsFor returns the permission flags of the mapping covering
// virtAddr.
func (m *Manager) PageFlagsFor(h Handle, virtAddr uint64) (PageFlags, *kernel.Error) {
	space, err := m.Space(h)
	if err != nil {
		return 0, err
	}

	entry, exists := space.pages[mm.PageFromAddress(virtAddr)]
	if !exists {
		return 0, ErrNotMapped
	}
	return entry.flags, nil
}
