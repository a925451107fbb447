package hal

import "github.com/southwarridev/kewveOs/kernel"

// GPR slot assignments for the ARM64 context: slot i holds Xi.
const (
	regARMX0 = iota
	regARMX1
	regARMX2
	regARMX3
	_
	_
	_
	_
	regARMX8
)

// daifIRQMask is the IRQ mask bit in the DAIF field; a set bit means IRQ
// delivery is masked.
const daifIRQMask = 1 << 7

// ARM64Platform drives the mobile-class ARM64 target.
type ARM64Platform struct {
	desc Descriptor

	// daif models the DAIF interrupt mask field; only the I bit is
	// interpreted.
	daif uint64

	// ttbr0 and far model the translation-root and fault-address
	// registers.
	ttbr0, far uint64

	// el is the current exception level expressed through the neutral
	// privilege constants.
	el PrivilegeLevel

	halted bool
}

// NewARM64Platform returns a Platform for the ARM64 target with IRQ
// delivery initially masked, matching the machine state at kernel entry.
func NewARM64Platform() *ARM64Platform {
	return &ARM64Platform{
		desc: Descriptor{
			Arch:        ArchARM64,
			AddressBits: 48,
			KernelPriv:  PrivKernel,
			UserPriv:    PrivUser,
		},
		daif: daifIRQMask,
	}
}

// Descriptor returns the immutable platform identification.
func (p *ARM64Platform) Descriptor() Descriptor { return p.desc }

// EnableInterrupts clears the DAIF I bit (MSR DAIFClr).
func (p *ARM64Platform) EnableInterrupts() { p.daif &^= daifIRQMask }

// DisableInterrupts sets the DAIF I bit (MSR DAIFSet).
func (p *ARM64Platform) DisableInterrupts() { p.daif |= daifIRQMask }

// InterruptsEnabled reports whether IRQ delivery is unmasked.
func (p *ARM64Platform) InterruptsEnabled() bool { return p.daif&daifIRQMask == 0 }

// ReadControlReg returns the value of the named control register.
func (p *ARM64Platform) ReadControlReg(reg ControlReg) uint64 {
	switch reg {
	case RegTranslationRoot:
		return p.ttbr0
	case RegFaultAddress:
		return p.far
	}
	return 0
}

// WriteControlReg updates the named control register. Writing the
// translation root corresponds to a TTBR0 load followed by a TLB
// invalidation.
func (p *ARM64Platform) WriteControlReg(reg ControlReg, val uint64) {
	switch reg {
	case RegTranslationRoot:
		p.ttbr0 = val
	case RegFaultAddress:
		p.far = val
	}
}

// PrivilegeLevel returns the current exception level.
func (p *ARM64Platform) PrivilegeLevel() PrivilegeLevel { return p.el }

// SwitchPrivilege performs an exception-level transition.
func (p *ARM64Platform) SwitchPrivilege(to PrivilegeLevel) { p.el = to }

// SyscallNumber extracts the syscall number from X8 per the SVC convention.
func (p *ARM64Platform) SyscallNumber(ctx *Context) uint64 {
	return ctx.GPR[regARMX8]
}

// SyscallArgs extracts the four syscall arguments from X0 through X3.
func (p *ARM64Platform) SyscallArgs(ctx *Context) [4]uint64 {
	return [4]uint64{
		ctx.GPR[regARMX0],
		ctx.GPR[regARMX1],
		ctx.GPR[regARMX2],
		ctx.GPR[regARMX3],
	}
}

// SetSyscallResult stores the tagged result: the success value in X0 and
// the error kind in X1 (zero on success).
func (p *ARM64Platform) SetSyscallResult(ctx *Context, val uint64, code kernel.ErrorCode) {
	ctx.GPR[regARMX0] = val
	ctx.GPR[regARMX1] = uint64(code)
}

// SetSyscallRequest loads a syscall number and arguments into the
// registers the convention reads them from.
func (p *ARM64Platform) SetSyscallRequest(ctx *Context, num uint64, args [4]uint64) {
	ctx.GPR[regARMX8] = num
	ctx.GPR[regARMX0] = args[0]
	ctx.GPR[regARMX1] = args[1]
	ctx.GPR[regARMX2] = args[2]
	ctx.GPR[regARMX3] = args[3]
}

// SyscallResult reads back the tagged result stored by SetSyscallResult.
func (p *ARM64Platform) SyscallResult(ctx *Context) (uint64, kernel.ErrorCode) {
	return ctx.GPR[regARMX0], kernel.ErrorCode(ctx.GPR[regARMX1])
}

// Halt stops instruction execution (WFI with IRQs masked). The hosted
// implementation records the halt and returns.
func (p *ARM64Platform) Halt() {
	p.DisableInterrupts()
	p.halted = true
}

// Halted reports whether Halt has been invoked.
func (p *ARM64Platform) Halted() bool { return p.halted }
