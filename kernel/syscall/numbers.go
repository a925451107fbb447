// Package syscall implements the kernel's only entry point from user
// mode: a fixed set of operation numbers invoked through the platform's
// privilege-transition trap. Every operation validates that the caller is
// Running and holds a capability naming the target resource before any
// state changes; a failed check returns PermissionDenied with no side
// effect.
package syscall

// Number identifies one syscall operation. The platform ABI places it in
// the architecture's syscall number register.
type Number uint64

const (
	SysProcessCreate    Number = 1
	SysProcessTerminate Number = 2
	SysProcessYield     Number = 3
	SysMemMap           Number = 4
	SysMemUnmap         Number = 5
	SysChannelCreate    Number = 6
	SysChannelSend      Number = 7
	SysChannelReceive   Number = 8
	SysCapQuery         Number = 9
)

// String implements fmt.Stringer for Number.
func (n Number) String() string {
	switch n {
	case SysProcessCreate:
		return "process_create"
	case SysProcessTerminate:
		return "process_terminate"
	case SysProcessYield:
		return "process_yield"
	case SysMemMap:
		return "mem_map"
	case SysMemUnmap:
		return "mem_unmap"
	case SysChannelCreate:
		return "channel_create"
	case SysChannelSend:
		return "channel_send"
	case SysChannelReceive:
		return "channel_receive"
	case SysCapQuery:
		return "cap_query"
	default:
		return "unknown"
	}
}

// Flag bits shared by the channel operations, passed in the last argument
// register.
const (
	// FlagNonBlocking makes a send or receive fail with WouldBlock
	// instead of parking the caller.
	FlagNonBlocking uint64 = 1 << 0

	// FlagTransferCap marks a send whose last argument also carries a
	// packed capability descriptor to transfer with the message.
	FlagTransferCap uint64 = 1 << 1
)

// Capability descriptor layout inside the channel_send flags argument:
// bits [8,16) resource kind, [16,48) resource id, [48,64) rights.
const (
	capKindShift   = 8
	capIDShift     = 16
	capRightsShift = 48

	capKindMask   = 0xff
	capIDMask     = 0xffffffff
	capRightsMask = 0xffff
)

// PackTransfer encodes a capability descriptor into the flag bits used by
// channel_send.
func PackTransfer(kind uint8, id uint32, rights uint16) uint64 {
	return FlagTransferCap |
		uint64(kind)<<capKindShift |
		uint64(id)<<capIDShift |
		uint64(rights)<<capRightsShift
}

func unpackTransfer(flags uint64) (kind uint8, id uint32, rights uint16) {
	kind = uint8(flags >> capKindShift & capKindMask)
	id = uint32(flags >> capIDShift & capIDMask)
	rights = uint16(flags >> capRightsShift & capRightsMask)
	return kind, id, rights
}
