package sync

import (
	"testing"

	"github.com/southwarridev/kewveOs/kernel/hal"
)

func TestIRQLockMasksInterruptsForSection(t *testing.T) {
	plat := hal.NewX86Platform()
	plat.EnableInterrupts()

	l := NewIRQLock(plat)

	l.Acquire()
	if plat.InterruptsEnabled() {
		t.Fatal("expected interrupts to be masked inside the critical section")
	}

	l.Release()
	if !plat.InterruptsEnabled() {
		t.Fatal("expected interrupts to be restored after the critical section")
	}
}

func TestIRQLockPreservesMaskedState(t *testing.T) {
	plat := hal.NewARM64Platform()
	// Interrupts are masked at kernel entry; a section entered in that
	// state must not enable them on exit.
	l := NewIRQLock(plat)

	l.Acquire()
	l.Release()

	if plat.InterruptsEnabled() {
		t.Fatal("expected interrupts to stay masked when the section began masked")
	}
}
