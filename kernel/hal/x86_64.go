package hal

import "github.com/southwarridev/kewveOs/kernel"

// GPR slot assignments for the x86-64 context, following the push order of
// the trap entry stubs.
const (
	regX86RAX = iota
	regX86RBX
	regX86RCX
	regX86RDX
	regX86RSI
	regX86RDI
	regX86RBP
	regX86R8
	regX86R9
	regX86R10
	regX86R11
	regX86R12
	regX86R13
	regX86R14
	regX86R15
)

// rflagsIF is the interrupt-enable bit in RFLAGS.
const rflagsIF = 1 << 9

// X86Platform drives the desktop-class x86-64 target. The privileged
// register file is modelled as plain fields indexed by the neutral
// ControlReg handles, per the arena-of-records representation used across
// the kernel.
type X86Platform struct {
	desc Descriptor

	// rflags models the RFLAGS register; only the IF bit is interpreted.
	rflags uint64

	// cr2 and cr3 model the fault-address and translation-root registers.
	cr2, cr3 uint64

	// cpl is the current privilege level (ring).
	cpl PrivilegeLevel

	halted bool
}

// NewX86Platform returns a Platform for the x86-64 target with interrupts
// initially disabled, matching the machine state at kernel entry.
func NewX86Platform() *X86Platform {
	return &X86Platform{
		desc: Descriptor{
			Arch:        ArchX86_64,
			AddressBits: 48,
			KernelPriv:  PrivKernel,
			UserPriv:    PrivUser,
		},
	}
}

// Descriptor returns the immutable platform identification.
func (p *X86Platform) Descriptor() Descriptor { return p.desc }

// EnableInterrupts sets the IF bit (STI).
func (p *X86Platform) EnableInterrupts() { p.rflags |= rflagsIF }

// DisableInterrupts clears the IF bit (CLI).
func (p *X86Platform) DisableInterrupts() { p.rflags &^= rflagsIF }

// InterruptsEnabled reports whether the IF bit is set.
func (p *X86Platform) InterruptsEnabled() bool { return p.rflags&rflagsIF != 0 }

// ReadControlReg returns the value of the named control register.
func (p *X86Platform) ReadControlReg(reg ControlReg) uint64 {
	switch reg {
	case RegTranslationRoot:
		return p.cr3
	case RegFaultAddress:
		return p.cr2
	}
	return 0
}

// WriteControlReg updates the named control register. Writing the
// translation root corresponds to a CR3 load and implies a TLB flush.
func (p *X86Platform) WriteControlReg(reg ControlReg, val uint64) {
	switch reg {
	case RegTranslationRoot:
		p.cr3 = val
	case RegFaultAddress:
		p.cr2 = val
	}
}

// PrivilegeLevel returns the current ring.
func (p *X86Platform) PrivilegeLevel() PrivilegeLevel { return p.cpl }

// SwitchPrivilege performs a ring transition.
func (p *X86Platform) SwitchPrivilege(to PrivilegeLevel) { p.cpl = to }

// SyscallNumber extracts the syscall number from RAX per the syscall
// convention.
func (p *X86Platform) SyscallNumber(ctx *Context) uint64 {
	return ctx.GPR[regX86RAX]
}

// SyscallArgs extracts the four syscall arguments from RDI, RSI, RDX and
// R10.
func (p *X86Platform) SyscallArgs(ctx *Context) [4]uint64 {
	return [4]uint64{
		ctx.GPR[regX86RDI],
		ctx.GPR[regX86RSI],
		ctx.GPR[regX86RDX],
		ctx.GPR[regX86R10],
	}
}

// SetSyscallResult stores the tagged result: the success value in RAX and
// the error kind in RDX (zero on success).
func (p *X86Platform) SetSyscallResult(ctx *Context, val uint64, code kernel.ErrorCode) {
	ctx.GPR[regX86RAX] = val
	ctx.GPR[regX86RDX] = uint64(code)
}

// SetSyscallRequest loads a syscall number and arguments into the
// registers the convention reads them from.
func (p *X86Platform) SetSyscallRequest(ctx *Context, num uint64, args [4]uint64) {
	ctx.GPR[regX86RAX] = num
	ctx.GPR[regX86RDI] = args[0]
	ctx.GPR[regX86RSI] = args[1]
	ctx.GPR[regX86RDX] = args[2]
	ctx.GPR[regX86R10] = args[3]
}

// SyscallResult reads back the tagged result stored by SetSyscallResult.
func (p *X86Platform) SyscallResult(ctx *Context) (uint64, kernel.ErrorCode) {
	return ctx.GPR[regX86RAX], kernel.ErrorCode(ctx.GPR[regX86RDX])
}

// Halt stops instruction execution (CLI; HLT). The hosted implementation
// records the halt and returns.
func (p *X86Platform) Halt() {
	p.DisableInterrupts()
	p.halted = true
}

// Halted reports whether Halt has been invoked.
func (p *X86Platform) Halted() bool { return p.halted }
