// Package sync provides the mutual-exclusion primitive used for shared
// kernel state: short critical sections entered with hardware interrupts
// masked. On a single core this is sufficient and deadlock-free, since a
// kernel context holding a section can never be preempted by another task.
package sync

import "github.com/southwarridev/kewveOs/kernel/hal"

// IRQLock guards a critical section by masking hardware interrupts for its
// duration and restoring the previous mask state on exit. Sections must be
// short; an IRQLock is never held across a blocking operation.
type IRQLock struct {
	plat hal.Platform

	// wasEnabled records the interrupt state at Acquire time so nested
	// sections restore correctly.
	wasEnabled bool
}

// NewIRQLock returns an IRQLock bound to the supplied platform.
func NewIRQLock(plat hal.Platform) *IRQLock {
	return &IRQLock{plat: plat}
}

// Acquire enters the critical section by masking interrupts. Acquiring an
// already-held lock on the same core is a programming error that the
// single-core model cannot reach through normal control flow.
func (l *IRQLock) Acquire() {
	l.wasEnabled = l.plat.InterruptsEnabled()
	l.plat.DisableInterrupts()
}

// Release leaves the critical section, re-enabling interrupts only if they
// were enabled when the section was entered.
func (l *IRQLock) Release() {
	if l.wasEnabled {
		l.plat.EnableInterrupts()
	}
}
