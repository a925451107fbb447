// Package hal is the platform abstraction layer. It detects the running
// architecture at boot and exposes the privileged primitives (interrupt
// masking, control registers, privilege transitions) that the rest of the
// kernel consumes through the Platform interface. Exactly two architectures
// are supported: the desktop-class x86-64 target and the mobile-class ARM64
// target.
package hal

import (
	"io"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// Arch identifies a supported CPU architecture.
type Arch uint8

const (
	// ArchUnknown is reported before detection has run.
	ArchUnknown Arch = iota

	// ArchX86_64 is the desktop-class instruction set.
	ArchX86_64

	// ArchARM64 is the mobile-class instruction set.
	ArchARM64
)

// String implements fmt.Stringer for Arch.
func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	}
	return "unknown"
}

// PrivilegeLevel describes the CPU privilege of executing code. The kernel
// level maps to ring 0 on x86-64 and EL1 on ARM64; the user level maps to
// ring 3 and EL0 respectively.
type PrivilegeLevel uint8

const (
	// PrivKernel is the most privileged level.
	PrivKernel PrivilegeLevel = 0

	// PrivUser is the level user tasks execute at.
	PrivUser PrivilegeLevel = 3
)

// ControlReg names an architecture control register through an
// architecture-neutral handle.
type ControlReg uint8

const (
	// RegTranslationRoot holds the physical address of the active
	// top-level translation table (CR3 on x86-64, TTBR0 on ARM64).
	RegTranslationRoot ControlReg = iota

	// RegFaultAddress holds the virtual address whose access raised the
	// last page fault (CR2 on x86-64, FAR on ARM64).
	RegFaultAddress
)

// Descriptor identifies the detected platform. It is immutable after
// detection.
type Descriptor struct {
	// Arch is the detected architecture.
	Arch Arch

	// AddressBits is the width of a virtual address.
	AddressBits uint8

	// KernelPriv and UserPriv are the privilege-level constants for this
	// platform.
	KernelPriv PrivilegeLevel
	UserPriv   PrivilegeLevel
}

// Platform exposes the architecture-specific primitives behind one
// interface. An implementation exists per supported architecture and is
// selected exactly once at boot by Detect.
type Platform interface {
	// Descriptor returns the immutable platform identification.
	Descriptor() Descriptor

	// EnableInterrupts and DisableInterrupts toggle hardware interrupt
	// delivery on the current core. InterruptsEnabled reports the current
	// state so critical sections can restore it on exit.
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool

	// ReadControlReg and WriteControlReg access privileged control
	// registers.
	ReadControlReg(reg ControlReg) uint64
	WriteControlReg(reg ControlReg, val uint64)

	// PrivilegeLevel returns the privilege of the currently executing
	// code; SwitchPrivilege performs a privilege-level transition.
	PrivilegeLevel() PrivilegeLevel
	SwitchPrivilege(to PrivilegeLevel)

	// SyscallNumber, SyscallArgs and SetSyscallResult implement this
	// platform's syscall register convention over a trap Context.
	// SetSyscallRequest is the inverse used by the user-space shim to
	// load a request into the registers before trapping.
	SyscallNumber(ctx *Context) uint64
	SyscallArgs(ctx *Context) [4]uint64
	SetSyscallResult(ctx *Context, val uint64, code kernel.ErrorCode)
	SetSyscallRequest(ctx *Context, num uint64, args [4]uint64)
	SyscallResult(ctx *Context) (uint64, kernel.ErrorCode)

	// Halt stops instruction execution. On real hardware this never
	// returns; the hosted implementations record the halt and return so
	// the front-end can observe it via Halted.
	Halt()
	Halted() bool
}

var (
	detected Platform

	errUnsupported = &kernel.Error{
		Module:  "hal",
		Message: "unsupported architecture",
		Code:    kernel.CodePlatformUnsupported,
	}
)

// Detect selects the Platform implementation matching the supplied
// architecture identification from the boot payload. The first successful
// call wins; the selection is process-wide read-only state afterwards and
// repeated calls return the same instance regardless of the argument. An
// unsupported architecture is a fatal boot-time condition reported as a
// CodePlatformUnsupported error.
func Detect(archName string) (Platform, *kernel.Error) {
	if detected != nil {
		return detected, nil
	}

	switch archName {
	case "x86_64", "amd64":
		detected = NewX86Platform()
	case "arm64", "aarch64":
		detected = NewARM64Platform()
	default:
		return nil, errUnsupported
	}

	kfmt.Printf("[hal] detected %s platform\n", detected.Descriptor().Arch)
	return detected, nil
}

// Active returns the platform selected by Detect, or nil before detection.
func Active() Platform {
	return detected
}

// reset clears the detection singleton. Tests use it to exercise Detect for
// both architectures inside one process.
func reset() {
	detected = nil
}

// DumpDescriptor writes a human-readable platform summary to w.
func DumpDescriptor(w io.Writer, d Descriptor) {
	kfmt.Fprintf(w, "arch: %s\n", d.Arch)
	kfmt.Fprintf(w, "address bits: %d\n", d.AddressBits)
	kfmt.Fprintf(w, "privilege levels: kernel=%d user=%d\n", d.KernelPriv, d.UserPriv)
}
