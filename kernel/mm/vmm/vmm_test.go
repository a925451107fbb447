package vmm

import (
	"testing"

	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/hal/bootinfo"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
)

func testManager(t *testing.T) (*Manager, *pmm.Allocator, hal.Platform) {
	t.Helper()

	plat := hal.NewX86Platform()
	frames := pmm.NewAllocator(plat)
	err := frames.Init(&bootinfo.Info{
		ArchName: "x86_64",
		MemoryMap: []bootinfo.MemoryRegion{
			{PhysAddress: 0, Length: 64 * mm.PageSize, Type: bootinfo.RegionAvailable},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	return NewManager(plat, frames), frames, plat
}

func TestCreateAndActivate(t *testing.T) {
	m, _, plat := testManager(t)

	h, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}

	space, err := m.Space(h)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Activate(h); err != nil {
		t.Fatal(err)
	}

	if got := plat.ReadControlReg(hal.RegTranslationRoot); got != space.Root().Address() {
		t.Fatalf("expected translation root register to hold %x; got %x", space.Root().Address(), got)
	}

	if _, err := m.Space(Handle(999)); err != ErrInvalidSpace {
		t.Fatalf("expected ErrInvalidSpace for unknown handle; got %v", err)
	}
}

func TestMapUnmapRoundTrip(t *testing.T) {
	m, frames, _ := testManager(t)

	h, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}

	space, _ := m.Space(h)
	freeBefore := frames.Stats().FreeFrames

	backing, err := frames.Allocate(3, pmm.FlagFrameUser)
	if err != nil {
		t.Fatal(err)
	}

	start := mm.PageFromAddress(0x400000)
	if err := m.Map(h, start, backing, FlagRead|FlagWrite|FlagUser); err != nil {
		t.Fatal(err)
	}

	if got := space.MappedPages(); got != 3 {
		t.Fatalf("expected 3 mapped pages; got %d", got)
	}

	// Unmapping the identical range must restore the pre-map state,
	// including returning the backing frames to the allocator.
	if err := m.Unmap(h, start, 3); err != nil {
		t.Fatal(err)
	}

	if got := space.MappedPages(); got != 0 {
		t.Fatalf("expected no mapped pages after round trip; got %d", got)
	}

	if got := frames.Stats().FreeFrames; got != freeBefore {
		t.Fatalf("expected free frame count %d after round trip; got %d", freeBefore, got)
	}
}

func TestMapRejectsOverlapWithoutReplaceFlag(t *testing.T) {
	m, frames, _ := testManager(t)

	h, _ := m.Create()
	space, _ := m.Space(h)
	start := mm.PageFromAddress(0x400000)

	first, _ := frames.Allocate(2, pmm.FlagFrameUser)
	if err := m.Map(h, start, first, FlagRead|FlagUser); err != nil {
		t.Fatal(err)
	}

	// Overlapping map without the replace flag fails and maps nothing.
	second, _ := frames.Allocate(2, pmm.FlagFrameUser)
	if err := m.Map(h, start+1, second, FlagRead|FlagUser); err != ErrAlreadyMapped {
		t.Fatalf("expected ErrAlreadyMapped; got %v", err)
	}
	if got := space.MappedPages(); got != 2 {
		t.Fatalf("expected the failed map to leave 2 pages mapped; got %d", got)
	}

	// With the replace flag the overlap succeeds and the displaced frame
	// is released.
	if err := m.Map(h, start+1, second, FlagRead|FlagUser|FlagReplace); err != nil {
		t.Fatal(err)
	}
	if got := space.MappedPages(); got != 3 {
		t.Fatalf("expected 3 pages mapped after replace; got %d", got)
	}

	flags, err := frames.FrameFlags(first[1])
	if err != nil {
		t.Fatal(err)
	}
	if flags&pmm.FlagFrameInUse != 0 {
		t.Fatal("expected the replaced frame to be released")
	}
}

func TestUnmapUnmappedRangeFails(t *testing.T) {
	m, frames, _ := testManager(t)

	h, _ := m.Create()
	start := mm.PageFromAddress(0x400000)

	if err := m.Unmap(h, start, 1); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped; got %v", err)
	}

	// A range that is only partially mapped must not be torn down.
	backing, _ := frames.Allocate(1, pmm.FlagFrameUser)
	if err := m.Map(h, start, backing, FlagRead); err != nil {
		t.Fatal(err)
	}

	space, _ := m.Space(h)
	if err := m.Unmap(h, start, 2); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped for partially mapped range; got %v", err)
	}
	if got := space.MappedPages(); got != 1 {
		t.Fatalf("expected partial unmap to remove nothing; got %d mapped pages", got)
	}
}

func TestTranslate(t *testing.T) {
	m, frames, _ := testManager(t)

	h, _ := m.Create()
	backing, _ := frames.Allocate(1, pmm.FlagFrameUser)

	start := mm.PageFromAddress(0x7f0000)
	if err := m.Map(h, start, backing, FlagRead|FlagUser); err != nil {
		t.Fatal(err)
	}

	phys, err := m.Translate(h, 0x7f0123)
	if err != nil {
		t.Fatal(err)
	}

	if exp := backing[0].Address() | 0x123; phys != exp {
		t.Fatalf("expected translation %x; got %x", exp, phys)
	}

	if _, err := m.Translate(h, 0xdead0000); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped; got %v", err)
	}
}

func TestDestroyReleasesEveryFrame(t *testing.T) {
	m, frames, _ := testManager(t)

	freeBefore := frames.Stats().FreeFrames

	h, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}

	backing, _ := frames.Allocate(4, pmm.FlagFrameUser)
	if err := m.Map(h, mm.PageFromAddress(0x400000), backing, FlagRead|FlagWrite|FlagUser); err != nil {
		t.Fatal(err)
	}

	if err := m.Destroy(h); err != nil {
		t.Fatal(err)
	}

	// Every frame owned by the space, including the translation root,
	// returns to the free allocator.
	if got := frames.Stats().FreeFrames; got != freeBefore {
		t.Fatalf("expected free frame count %d after destroy; got %d", freeBefore, got)
	}

	if _, err := m.Space(h); err != ErrInvalidSpace {
		t.Fatalf("expected the handle to be retired; got %v", err)
	}
}

func TestHandleFault(t *testing.T) {
	m, frames, _ := testManager(t)

	h, _ := m.Create()
	heap := Region{Start: mm.PageFromAddress(0x600000), End: mm.PageFromAddress(0x640000)}
	if err := m.SetHeapRegion(h, heap); err != nil {
		t.Fatal(err)
	}

	t.Run("fault in heap region populates on demand", func(t *testing.T) {
		faultAddr := uint64(0x600000 + 42)
		if err := m.HandleFault(h, faultAddr); err != nil {
			t.Fatal(err)
		}

		flags, err := m.PageFlagsFor(h, faultAddr)
		if err != nil {
			t.Fatal(err)
		}
		if flags != FlagRead|FlagWrite|FlagUser {
			t.Fatalf("expected demand-mapped page to be user read/write; got %b", flags)
		}
	})

	t.Run("fault outside every region escalates", func(t *testing.T) {
		if err := m.HandleFault(h, 0xffff0000); err == nil {
			t.Fatal("expected fault outside all regions to be unresolvable")
		}
	})

	t.Run("fault on already mapped page escalates", func(t *testing.T) {
		backing, _ := frames.Allocate(1, pmm.FlagFrameUser)
		page := mm.PageFromAddress(0x610000)
		if err := m.Map(h, page, backing, FlagRead|FlagUser); err != nil {
			t.Fatal(err)
		}

		// The page is mapped read-only; a fault on it is a protection
		// violation, not a demand-population request.
		if err := m.HandleFault(h, page.Address()); err == nil {
			t.Fatal("expected fault on mapped page to be unresolvable")
		}
	})
}
