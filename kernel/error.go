// Package kernel defines the error and panic primitives shared by every
// kernel subsystem.
package kernel

// ErrorCode is a stable numeric identifier for an error kind. Codes cross
// the syscall boundary as the error half of a tagged result; CodeNone marks
// success.
type ErrorCode uint32

const (
	// CodeNone indicates the absence of an error.
	CodeNone ErrorCode = iota

	// CodeOutOfMemory indicates an exhausted frame allocator or kernel heap.
	CodeOutOfMemory

	// CodeDoubleFree indicates an attempt to release a frame or heap block
	// that is not currently allocated.
	CodeDoubleFree

	// CodeAlreadyMapped indicates a map request overlapping an existing
	// mapping without the replace flag.
	CodeAlreadyMapped

	// CodeNotMapped indicates an unmap request for a range that is not
	// mapped.
	CodeNotMapped

	// CodeDuplicateVector indicates a second registration for an interrupt
	// vector.
	CodeDuplicateVector

	// CodePermissionDenied indicates a missing or insufficient capability.
	CodePermissionDenied

	// CodeWouldBlock indicates a non-blocking IPC call that would have to
	// wait.
	CodeWouldBlock

	// CodeInvalidHandle indicates a process, address-space or channel
	// handle that names no live object.
	CodeInvalidHandle

	// CodePlatformUnsupported indicates an architecture the PAL cannot
	// drive. It is fatal at boot; it never crosses the syscall boundary.
	CodePlatformUnsupported
)

// String implements fmt.Stringer for ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "ok"
	case CodeOutOfMemory:
		return "out of memory"
	case CodeDoubleFree:
		return "double free"
	case CodeAlreadyMapped:
		return "already mapped"
	case CodeNotMapped:
		return "not mapped"
	case CodeDuplicateVector:
		return "duplicate vector"
	case CodePermissionDenied:
		return "permission denied"
	case CodeWouldBlock:
		return "would block"
	case CodeInvalidHandle:
		return "invalid handle"
	case CodePlatformUnsupported:
		return "platform unsupported"
	default:
		return "unknown"
	}
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so that callers can
// compare them against the sentinel values exported by each subsystem.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message.
	Message string

	// The error kind reported across the syscall boundary.
	Code ErrorCode
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
