// Package bootinfo models the handoff payload passed by the boot-loading
// collaborator at kernel entry: the physical memory map and the platform
// identification string. The payload is installed exactly once and treated
// as read-only for the lifetime of the kernel.
package bootinfo

// RegionType describes the kind of a physical memory region reported by the
// boot loader.
type RegionType uint8

const (
	// RegionAvailable describes a region of physical memory the kernel
	// frame allocator may hand out.
	RegionAvailable RegionType = iota

	// RegionReserved describes a region the kernel must never touch
	// (firmware tables, device windows).
	RegionReserved

	// RegionKernel describes the region occupied by the kernel image
	// itself.
	RegionKernel
)

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionKernel:
		return "kernel"
	}
	return "unknown"
}

// MemoryRegion describes a contiguous range of physical memory.
type MemoryRegion struct {
	// PhysAddress is the physical start address of the region.
	PhysAddress uint64

	// Length is the region size in bytes.
	Length uint64

	// Type reports how the region may be used.
	Type RegionType
}

// Info is the payload the boot loader hands to kernel entry.
type Info struct {
	// ArchName identifies the running architecture ("x86_64" or "arm64").
	ArchName string

	// MemoryMap lists the physical memory regions in ascending address
	// order.
	MemoryMap []MemoryRegion

	// KernelStart and KernelEnd delimit the physical range occupied by
	// the kernel image.
	KernelStart uint64
	KernelEnd   uint64

	// CmdLine contains boot command-line key/value options.
	CmdLine map[string]string
}

var info *Info

// Set installs the boot payload. It must be invoked exactly once before any
// other package function; later calls are ignored so the payload stays
// immutable after kernel entry.
func Set(bi *Info) {
	if info != nil {
		return
	}
	info = bi
}

// Get returns the installed boot payload or nil if Set has not run yet.
func Get() *Info {
	return info
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// boot memory map. The visitor returns false to stop the iteration.
func VisitMemRegions(visitor func(region *MemoryRegion) bool) {
	if info == nil {
		return
	}

	for i := range info.MemoryMap {
		if !visitor(&info.MemoryMap[i]) {
			return
		}
	}
}

// reset clears the installed payload. Tests use it to simulate repeated
// boots inside a single process.
func reset() {
	info = nil
}
