// Package irq provides the kernel's interrupt and exception subsystem: a
// vector table populated at boot, a dispatcher invoked by the trap entry
// path, and an in-order queue for hardware interrupt delivery.
package irq

// Vector identifies one entry in the interrupt vector table.
type Vector uint8

// NumVectors is the size of the vector table.
const NumVectors = 256

// Vectors below this value are CPU exceptions; the rest are hardware
// interrupts and software traps.
const firstMaskableVector = 32

// Well-known vectors. Exception numbers follow the x86-64 layout; the
// ARM64 platform code remaps its exception classes onto the same table so
// handler registration is architecture-independent.
const (
	VectorDivideError       Vector = 0
	VectorBreakpoint        Vector = 3
	VectorInvalidOpcode     Vector = 6
	VectorGeneralProtection Vector = 13
	VectorPageFault         Vector = 14
	VectorTimer             Vector = 32
	VectorKeyboard          Vector = 33
	VectorSyscall           Vector = 128
)

// Maskable reports whether the vector is a hardware interrupt that can be
// suppressed by disabling interrupts. CPU exceptions are never maskable.
func (v Vector) Maskable() bool {
	return v >= firstMaskableVector
}

// IsException reports whether the vector is a CPU exception rather than a
// hardware interrupt or software trap.
func (v Vector) IsException() bool {
	return v < firstMaskableVector
}

// String implements fmt.Stringer for the well-known vectors.
func (v Vector) String() string {
	switch v {
	case VectorDivideError:
		return "divide error"
	case VectorBreakpoint:
		return "breakpoint"
	case VectorInvalidOpcode:
		return "invalid opcode"
	case VectorGeneralProtection:
		return "general protection fault"
	case VectorPageFault:
		return "page fault"
	case VectorTimer:
		return "timer"
	case VectorKeyboard:
		return "keyboard"
	case VectorSyscall:
		return "syscall"
	default:
		return "unknown"
	}
}
