package irq

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// Disposition is a handler's verdict on what should happen to the
// interrupted task once the handler returns.
type Disposition uint8

const (
	// Resume continues the interrupted task at the pre-trap instruction
	// pointer.
	Resume Disposition = iota

	// TerminateTask requests termination of the interrupted task. If the
	// trap originated in kernel code this escalates to a system halt.
	TerminateTask
)

// HandlerFn is invoked by the dispatcher with the trapped context. The
// context is read-only except for the syscall result registers.
type HandlerFn func(ctx *hal.Context) Disposition

// vectorState tracks the per-vector registration state machine.
type vectorState uint8

const (
	vectorUnregistered vectorState = iota
	vectorRegistered
	vectorActive
)

// ErrDuplicateVector is returned when registering a handler on a vector
// that already has one.
var ErrDuplicateVector = &kernel.Error{Module: "irq", Message: "vector already has a registered handler", Code: kernel.CodeDuplicateVector}

type vectorEntry struct {
	state   vectorState
	handler HandlerFn
	count   uint64
}

// pendingTrap is one raised-but-not-yet-dispatched hardware interrupt.
type pendingTrap struct {
	vector Vector
	ctx    *hal.Context
}

// Dispatcher owns the vector table and routes every trap to its registered
// handler. It is populated during boot and read on every trap thereafter.
type Dispatcher struct {
	plat    hal.Platform
	entries [NumVectors]vectorEntry

	// pending holds raised hardware interrupts in arrival order. The
	// dispatcher never reorders delivery across vectors.
	pending []pendingTrap

	// terminateFn is invoked when a user-mode task must die, either
	// because a handler returned TerminateTask or because an exception
	// had no resolution. Installed by the boot sequence once the
	// scheduler exists.
	terminateFn func(ctx *hal.Context)
}

// NewDispatcher returns a Dispatcher with an empty vector table.
func NewDispatcher(plat hal.Platform) *Dispatcher {
	return &Dispatcher{plat: plat}
}

// Register installs handler for vector. Registering a vector twice fails
// with ErrDuplicateVector; handlers are never silently replaced.
func (d *Dispatcher) Register(vector Vector, handler HandlerFn) *kernel.Error {
	entry := &d.entries[vector]
	if entry.state != vectorUnregistered {
		return ErrDuplicateVector
	}

	entry.state = vectorRegistered
	entry.handler = handler
	return nil
}

// SetTerminateFn installs the callback used to terminate a user-mode task
// after an unrecoverable trap.
func (d *Dispatcher) SetTerminateFn(fn func(ctx *hal.Context)) {
	d.terminateFn = fn
}

// HandlerCount returns how many times the handler for vector has run.
func (d *Dispatcher) HandlerCount(vector Vector) uint64 {
	return d.entries[vector].count
}

// Dispatch routes a trap on vector to its handler. It is called by the
// trap entry path with interrupts already masked by the hardware; Dispatch
// keeps them masked for the whole handler run so a second interrupt cannot
// reenter the vector table mid-update.
//
// An exception that cannot be resumed is fatal to the whole system when it
// originated in kernel code, and fatal only to the interrupted task when
// it originated in user code.
func (d *Dispatcher) Dispatch(vector Vector, ctx *hal.Context) {
	wasEnabled := d.plat.InterruptsEnabled()
	d.plat.DisableInterrupts()
	defer func() {
		if wasEnabled {
			d.plat.EnableInterrupts()
		}
	}()

	ctx.Vector = uint64(vector)

	entry := &d.entries[vector]
	if entry.state == vectorUnregistered {
		if vector.IsException() {
			d.fatal(vector, ctx)
			return
		}

		// A spurious hardware interrupt with no handler is logged and
		// otherwise ignored.
		kfmt.Printf("[irq] spurious interrupt on vector %d (%s)\n", vector, vector)
		return
	}

	entry.state = vectorActive
	entry.count++
	disposition := entry.handler(ctx)
	entry.state = vectorRegistered

	if disposition == TerminateTask {
		d.fatal(vector, ctx)
	}
}

// fatal handles a trap that cannot be resumed. Kernel-mode traps halt the
// system after flushing diagnostics; user-mode traps terminate only the
// offending task.
func (d *Dispatcher) fatal(vector Vector, ctx *hal.Context) {
	if ctx.Priv == hal.PrivKernel || d.terminateFn == nil {
		kfmt.Printf("[irq] unrecoverable kernel-mode trap on vector %d (%s)\n", vector, vector)
		ctx.DumpTo(nil)
		kernel.Panic(&kernel.Error{Module: "irq", Message: "unrecoverable kernel-mode trap"})
		return
	}

	kfmt.Printf("[irq] trap on vector %d (%s) terminates user task\n", vector, vector)
	d.terminateFn(ctx)
}

// Raise queues a hardware interrupt for in-order delivery. The trap entry
// path calls Raise when a vector fires while another dispatch is running;
// DispatchPending later drains the queue in arrival order.
func (d *Dispatcher) Raise(vector Vector, ctx *hal.Context) {
	d.pending = append(d.pending, pendingTrap{vector: vector, ctx: ctx})
}

// DispatchPending dispatches every queued interrupt in the order it was
// raised.
func (d *Dispatcher) DispatchPending() {
	for len(d.pending) > 0 {
		trap := d.pending[0]
		d.pending = d.pending[1:]
		d.Dispatch(trap.vector, trap.ctx)
	}
}
