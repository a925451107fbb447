package syscall

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/ipc"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
	"github.com/southwarridev/kewveOs/kernel/mm/vmm"
	"github.com/southwarridev/kewveOs/kernel/proc"
)

// ErrPermissionDenied is returned when the caller's capability table does
// not permit the requested operation on the target resource.
var ErrPermissionDenied = &kernel.Error{Module: "syscall", Message: "capability check failed", Code: kernel.CodePermissionDenied}

var errUnknownNumber = &kernel.Error{Module: "syscall", Message: "unknown syscall number", Code: kernel.CodeInvalidHandle}

// ReadUserFn copies size bytes from a user address range into kernel
// space. WriteUserFn copies data out to a user address range. Both verify
// the range is mapped user-accessible in the given address space.
type (
	ReadUserFn  func(space vmm.Handle, addr, size uint64) ([]byte, *kernel.Error)
	WriteUserFn func(space vmm.Handle, addr uint64, data []byte) *kernel.Error
)

// Dispatcher decodes trapped syscalls and routes them to the kernel
// subsystems. It registers on the syscall vector during boot.
type Dispatcher struct {
	plat     hal.Platform
	sched    *proc.Scheduler
	spaces   *vmm.Manager
	frames   *pmm.Allocator
	channels *ipc.Manager

	readUserFn  ReadUserFn
	writeUserFn WriteUserFn
}

// NewDispatcher wires a syscall dispatcher to the kernel subsystems it
// fronts.
func NewDispatcher(plat hal.Platform, sched *proc.Scheduler, spaces *vmm.Manager, frames *pmm.Allocator, channels *ipc.Manager) *Dispatcher {
	d := &Dispatcher{
		plat:     plat,
		sched:    sched,
		spaces:   spaces,
		frames:   frames,
		channels: channels,
	}
	d.readUserFn = d.checkedRead
	d.writeUserFn = d.checkedWrite
	return d
}

// SetUserMemory replaces the user-memory accessors, e.g. with ones backed
// by an emulated RAM image.
func (d *Dispatcher) SetUserMemory(read ReadUserFn, write WriteUserFn) {
	if read != nil {
		d.readUserFn = read
	}
	if write != nil {
		d.writeUserFn = write
	}
}

// Invoke handles one trap on the syscall vector. The operation number and
// arguments come out of the trapped context via the platform's syscall
// convention; the tagged result goes back the same way. Invoke always
// resumes the caller: syscall failures are results, not faults.
func (d *Dispatcher) Invoke(ctx *hal.Context) irq.Disposition {
	current := d.sched.Current()
	if current == nil || current.State() != proc.StateRunning {
		d.plat.SetSyscallResult(ctx, 0, kernel.CodePermissionDenied)
		return irq.Resume
	}

	num := Number(d.plat.SyscallNumber(ctx))
	args := d.plat.SyscallArgs(ctx)

	val, err := d.dispatch(current, num, args)
	if err != nil {
		code := err.Code
		if code == kernel.CodeNone {
			code = kernel.CodeInvalidHandle
		}
		d.plat.SetSyscallResult(ctx, 0, code)
		return irq.Resume
	}

	d.plat.SetSyscallResult(ctx, val, kernel.CodeNone)
	return irq.Resume
}

// dispatch performs the capability check for the operation and then acts.
// No branch mutates any state before its check has passed.
func (d *Dispatcher) dispatch(current *proc.Process, num Number, args [4]uint64) (uint64, *kernel.Error) {
	switch num {
	case SysProcessCreate:
		return d.processCreate(current, uint8(args[0]), cap.Rights(args[1]))
	case SysProcessTerminate:
		return d.processTerminate(current, proc.PID(args[0]), args[1])
	case SysProcessYield:
		d.sched.Yield()
		return 0, nil
	case SysMemMap:
		return d.memMap(current, args[0], args[1])
	case SysMemUnmap:
		return d.memUnmap(current, args[0], args[1])
	case SysChannelCreate:
		return d.channelCreate(current, args[0])
	case SysChannelSend:
		return d.channelSend(current, ipc.Handle(args[0]), args[1], args[2], args[3])
	case SysChannelReceive:
		return d.channelReceive(current, ipc.Handle(args[0]), args[1], args[2], args[3])
	case SysCapQuery:
		resource := cap.Resource{Kind: cap.ResourceKind(args[0]), ID: uint32(args[1])}
		return uint64(current.Caps().Rights(resource)), nil
	default:
		return 0, errUnknownNumber
	}
}

func (d *Dispatcher) processCreate(current *proc.Process, priority uint8, inherit cap.Rights) (uint64, *kernel.Error) {
	if !current.Caps().Holds(cap.ResourceProcTable, cap.RightCreate) {
		return 0, ErrPermissionDenied
	}

	child, err := d.sched.Create(current.Name()+"/child", priority, current.PID(), inherit)
	if err != nil {
		return 0, err
	}

	// The creator may manage its child; the child may manage its own
	// address space.
	current.Caps().Grant(cap.Resource{Kind: cap.KindProcess, ID: uint32(child.PID())}, cap.RightTerminate|cap.RightQuery)
	child.Caps().Grant(cap.Resource{Kind: cap.KindSpace, ID: uint32(child.Space())}, cap.RightMap|cap.RightUnmap)

	return uint64(child.PID()), nil
}

func (d *Dispatcher) processTerminate(current *proc.Process, pid proc.PID, status uint64) (uint64, *kernel.Error) {
	// Exiting is always permitted; terminating anyone else requires a
	// capability naming that process.
	if pid == 0 || pid == current.PID() {
		return 0, d.sched.Terminate(current.PID(), status)
	}

	if !current.Caps().Holds(cap.Resource{Kind: cap.KindProcess, ID: uint32(pid)}, cap.RightTerminate) {
		return 0, ErrPermissionDenied
	}
	return 0, d.sched.Terminate(pid, status)
}

func (d *Dispatcher) memMap(current *proc.Process, virtAddr, count uint64) (uint64, *kernel.Error) {
	space := current.Space()
	if !current.Caps().Holds(cap.Resource{Kind: cap.KindSpace, ID: uint32(space)}, cap.RightMap) {
		return 0, ErrPermissionDenied
	}
	if count == 0 {
		return 0, vmm.ErrNotMapped
	}

	backing, err := d.frames.Allocate(int(count), pmm.FlagFrameUser)
	if err != nil {
		return 0, err
	}

	if err := d.spaces.Map(space, mm.PageFromAddress(virtAddr), backing, vmm.FlagRead|vmm.FlagWrite|vmm.FlagUser); err != nil {
		if derr := d.frames.Deallocate(backing); derr != nil {
			kfmt.Printf("[syscall] rollback leaked %d frames: %s\n", len(backing), derr.Message)
		}
		return 0, err
	}
	return virtAddr, nil
}

func (d *Dispatcher) memUnmap(current *proc.Process, virtAddr, count uint64) (uint64, *kernel.Error) {
	space := current.Space()
	if !current.Caps().Holds(cap.Resource{Kind: cap.KindSpace, ID: uint32(space)}, cap.RightUnmap) {
		return 0, ErrPermissionDenied
	}
	return 0, d.spaces.Unmap(space, mm.PageFromAddress(virtAddr), int(count))
}

func (d *Dispatcher) channelCreate(current *proc.Process, slots uint64) (uint64, *kernel.Error) {
	if !current.Caps().Holds(cap.ResourceChannelTable, cap.RightCreate) {
		return 0, ErrPermissionDenied
	}
	if slots == 0 {
		slots = ipc.DefaultMailboxSlots
	}

	h, err := d.channels.Create(int(slots))
	if err != nil {
		return 0, err
	}

	current.Caps().Grant(cap.Resource{Kind: cap.KindChannel, ID: uint32(h)}, cap.RightSend|cap.RightReceive)
	return uint64(h), nil
}

func (d *Dispatcher) channelSend(current *proc.Process, h ipc.Handle, addr, size, flags uint64) (uint64, *kernel.Error) {
	if !current.Caps().Holds(cap.Resource{Kind: cap.KindChannel, ID: uint32(h)}, cap.RightSend) {
		return 0, ErrPermissionDenied
	}

	payload, err := d.readUserFn(current.Space(), addr, size)
	if err != nil {
		return 0, err
	}

	var transfer *ipc.Transfer
	if flags&FlagTransferCap != 0 {
		kind, id, rights := unpackTransfer(flags)
		transfer = &ipc.Transfer{
			Resource: cap.Resource{Kind: cap.ResourceKind(kind), ID: id},
			Rights:   cap.Rights(rights),
		}
	}

	block := flags&FlagNonBlocking == 0
	return 0, d.channels.Send(current.PID(), h, payload, transfer, block)
}

func (d *Dispatcher) channelReceive(current *proc.Process, h ipc.Handle, bufAddr, bufSize, flags uint64) (uint64, *kernel.Error) {
	if !current.Caps().Holds(cap.Resource{Kind: cap.KindChannel, ID: uint32(h)}, cap.RightReceive) {
		return 0, ErrPermissionDenied
	}

	// A process resuming after a blocking receive finds its message
	// parked as a completion.
	msg, err := d.channels.Collect(current.PID())
	if err != nil {
		if err.Code == kernel.CodeInvalidHandle || err.Code == kernel.CodeWouldBlock {
			return 0, err
		}

		block := flags&FlagNonBlocking == 0
		msg, err = d.channels.Receive(current.PID(), h, block)
		if err != nil {
			return 0, err
		}
		if block && current.State() == proc.StateBlocked {
			// Parked; the result registers are rewritten when the
			// woken process retries and collects.
			return 0, nil
		}
	}

	out := msg.Payload
	if uint64(len(out)) > bufSize {
		out = out[:bufSize]
	}
	if werr := d.writeUserFn(current.Space(), bufAddr, out); werr != nil {
		return 0, werr
	}
	return uint64(len(out)), nil
}

// checkedRead is the default user-memory reader: it verifies every page of
// the range is mapped user-readable in space and returns a zero-filled
// buffer standing in for the user bytes.
func (d *Dispatcher) checkedRead(space vmm.Handle, addr, size uint64) ([]byte, *kernel.Error) {
	if err := d.checkUserRange(space, addr, size, vmm.FlagRead); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

// checkedWrite is the default user-memory writer: it verifies the range is
// mapped user-writable and discards the data.
func (d *Dispatcher) checkedWrite(space vmm.Handle, addr uint64, data []byte) *kernel.Error {
	return d.checkUserRange(space, addr, uint64(len(data)), vmm.FlagWrite)
}

func (d *Dispatcher) checkUserRange(space vmm.Handle, addr, size uint64, access vmm.PageFlags) *kernel.Error {
	if size == 0 {
		return nil
	}

	// A range that wraps past the top of the address space cannot be
	// mapped; reject it before the page walk, whose bounds would wrap
	// with it.
	if size-1 > ^uint64(0)-addr {
		return vmm.ErrNotMapped
	}

	for page := mm.PageFromAddress(addr); page <= mm.PageFromAddress(addr+size-1); page++ {
		flags, err := d.spaces.PageFlagsFor(space, page.Address())
		if err != nil {
			return err
		}
		if flags&(access|vmm.FlagUser) != access|vmm.FlagUser {
			return ErrPermissionDenied
		}
	}
	return nil
}
