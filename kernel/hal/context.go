package hal

import (
	"io"

	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// NumGPR is the number of general-purpose register slots captured in a trap
// context. Both supported architectures fit their caller-visible register
// state in 16 slots.
const NumGPR = 16

// Context is a snapshot of the register values captured when an exception,
// interrupt or syscall occurs. The slot-to-register mapping is defined by
// the platform (see the regX86* and regARM* constants); the dispatcher and
// scheduler treat the slots as opaque.
type Context struct {
	// GPR holds the general-purpose registers.
	GPR [NumGPR]uint64

	// IP, SP and Flags capture the instruction pointer, stack pointer and
	// processor flags at trap time.
	IP    uint64
	SP    uint64
	Flags uint64

	// Vector contains the exception code for exceptions, the IRQ number
	// for hardware interrupts or the syscall vector for syscall entries.
	Vector uint64

	// ErrCode contains the hardware error code pushed for exceptions that
	// provide one (page faults).
	ErrCode uint64

	// Priv records the privilege level the CPU was executing at when the
	// trap fired. It decides whether a fault is fatal to the system or
	// only to the interrupted task.
	Priv PrivilegeLevel
}

// DumpTo outputs the register contents to w.
func (c *Context) DumpTo(w io.Writer) {
	for i := 0; i < NumGPR; i += 2 {
		kfmt.Fprintf(w, "R%-2d = %16x R%-2d = %16x\n", i, c.GPR[i], i+1, c.GPR[i+1])
	}
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "IP  = %16x SP  = %16x\n", c.IP, c.SP)
	kfmt.Fprintf(w, "FLG = %16x PRV = %16d\n", c.Flags, c.Priv)
}
