package vmm

import "github.com/southwarridev/kewveOs/kernel/mm"

// Handle names an address space in the manager's arena. Handle zero is
// never issued.
type Handle uint32

// PageFlags encodes the permissions of a mapping.
type PageFlags uint8

const (
	// FlagRead allows loads from the mapped range.
	FlagRead PageFlags = 1 << iota

	// FlagWrite allows stores to the mapped range.
	FlagWrite

	// FlagExec allows instruction fetches from the mapped range.
	FlagExec

	// FlagUser makes the mapping accessible from user mode.
	FlagUser

	// FlagReplace lets Map overwrite an existing mapping instead of
	// failing with ErrAlreadyMapped. The frame previously backing the
	// page is released.
	FlagReplace
)

// Region describes a half-open page range [Start, End) used for address
// space bookkeeping (heap bounds, stack bounds).
type Region struct {
	Start mm.Page
	End   mm.Page
}

// Contains reports whether page falls inside the region.
func (r Region) Contains(page mm.Page) bool {
	return page >= r.Start && page < r.End
}

// mapping records the frame and permissions backing one virtual page.
type mapping struct {
	frame mm.Frame
	flags PageFlags
}

// AddressSpace is the translation context owned by exactly one process. It
// is created empty, grows through Map calls and demand-faulted region pages,
// and releases every owned frame when destroyed.
type AddressSpace struct {
	handle Handle

	// root is the frame backing the top-level translation table. It is
	// installed into the translation-root control register when the
	// owning process is scheduled.
	root mm.Frame

	// pages records the live mappings keyed by page number.
	pages map[mm.Page]mapping

	// heap and stack delimit the regions whose pages may be populated on
	// demand by the page-fault path.
	heap  Region
	stack Region
}

// Handle returns the arena handle naming this address space.
func (s *AddressSpace) Handle() Handle { return s.handle }

// Root returns the frame backing the top-level translation table.
func (s *AddressSpace) Root() mm.Frame { return s.root }

// MappedPages returns the number of live mappings.
func (s *AddressSpace) MappedPages() int { return len(s.pages) }

// HeapRegion and StackRegion return the demand-populated region bounds.
func (s *AddressSpace) HeapRegion() Region  { return s.heap }
func (s *AddressSpace) StackRegion() Region { return s.stack }
