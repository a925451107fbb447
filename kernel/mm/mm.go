// Package mm defines the integer handles shared by the physical and virtual
// memory managers: physical frame numbers and virtual page numbers.
package mm

import "math"

const (
	// PageShift is the log2 of the page size. Both supported targets use
	// 4 KiB translation granules.
	PageShift = 12

	// PageSize is the size of a page/frame in bytes.
	PageSize = 1 << PageShift
)

// Frame describes a physical memory page index.
type Frame uint64

// InvalidFrame is returned by frame allocators when they fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address of the first byte of this
// frame.
func (f Frame) Address() uint64 {
	return uint64(f) << PageShift
}

// FrameFromAddress returns the Frame containing the given physical address.
// Addresses that are not page-aligned are rounded down to the frame that
// contains them.
func FrameFromAddress(physAddr uint64) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint64

// Address returns the virtual memory address of the first byte of this page.
func (p Page) Address() uint64 {
	return uint64(p) << PageShift
}

// PageFromAddress returns the Page containing the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr uint64) Page {
	return Page(virtAddr >> PageShift)
}
