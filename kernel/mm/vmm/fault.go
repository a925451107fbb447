package vmm

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
)

// HandleFault attempts to resolve a page fault at faultAddr inside the
// address space named by h. A fault on an unmapped page that falls inside
// the space's heap or stack region is resolved by mapping a fresh frame
// there on demand. Any other fault (address outside every valid region, or
// an access the mapping's permissions forbid) cannot be resolved and is
// returned as an error for the dispatcher to escalate into process
// termination.
func (m *Manager) HandleFault(h Handle, faultAddr uint64) *kernel.Error {
	space, err := m.Space(h)
	if err != nil {
		return err
	}

	page := mm.PageFromAddress(faultAddr)

	m.lock.Acquire()
	_, mapped := space.pages[page]
	inRegion := space.heap.Contains(page) || space.stack.Contains(page)
	m.lock.Release()

	if mapped || !inRegion {
		kfmt.Printf("[vmm] unresolvable page fault at 0x%x (space %d)\n", faultAddr, h)
		return errUnresolvableFault
	}

	frame, err := m.frames.AllocFrame(pmm.FlagFrameUser)
	if err != nil {
		// Demand population failed for lack of memory; the fault
		// cannot be resolved.
		return err
	}

	return m.Map(h, page, []mm.Frame{frame}, FlagRead|FlagWrite|FlagUser)
}
