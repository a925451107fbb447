// Package kmain assembles the kernel: it brings the subsystems up in
// dependency order, binds the exception and syscall vectors, probes the
// device drivers and starts the initial task.
package kmain

import (
	"github.com/southwarridev/kewveOs/device"
	"github.com/southwarridev/kewveOs/device/timer"
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/hal/bootinfo"
	"github.com/southwarridev/kewveOs/kernel/ipc"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/kheap"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
	"github.com/southwarridev/kewveOs/kernel/mm/vmm"
	"github.com/southwarridev/kewveOs/kernel/proc"
	"github.com/southwarridev/kewveOs/kernel/syscall"

	_ "github.com/southwarridev/kewveOs/device/keyboard"
)

// DefaultHeapBase is the start of the reserved kernel heap region.
const DefaultHeapBase = 1 << 20

// Initial layout of the init task's address space.
const (
	initHeapStart   = 0x00600000
	initHeapEnd     = 0x00700000
	initStackBottom = 0x7ffe0000
	initStackTop    = 0x80000000
)

// Config carries the tunable boot parameters.
type Config struct {
	// Quantum is the scheduling quantum in timer ticks.
	Quantum uint32

	// HeapBase and HeapSize bound the kernel heap region.
	HeapBase uint64
	HeapSize uint64

	// TimerHz is the tick rate programmed into the timer.
	TimerHz uint32

	// InitPriority is the scheduling priority of the initial task.
	InitPriority uint8
}

func (c *Config) applyDefaults() {
	if c.Quantum == 0 {
		c.Quantum = proc.DefaultQuantum
	}
	if c.HeapBase == 0 {
		c.HeapBase = DefaultHeapBase
	}
	if c.HeapSize == 0 {
		c.HeapSize = kheap.DefaultSize
	}
	if c.TimerHz == 0 {
		c.TimerHz = timer.DefaultFrequency
	}
	if c.InitPriority == 0 {
		c.InitPriority = proc.NumPriorities / 2
	}
}

// Kernel is the assembled system state: every subsystem, initialized once
// at boot and never torn down before shutdown.
type Kernel struct {
	Plat     hal.Platform
	Frames   *pmm.Allocator
	Spaces   *vmm.Manager
	Heap     *kheap.Heap
	Vectors  *irq.Dispatcher
	Sched    *proc.Scheduler
	Channels *ipc.Manager
	Syscalls *syscall.Dispatcher
	Devices  *device.Manager
	Timer    *timer.Device

	// Init is the initial task, created Running with the full initial
	// capability set.
	Init *proc.Process
}

var errNoTimer = &kernel.Error{Module: "kmain", Message: "no tick source detected"}

// Boot brings the system up from the boot handoff. An unsupported
// platform or a failure in any subsystem aborts the boot; there is no
// partial boot.
func Boot(bi *bootinfo.Info, cfg Config) (*Kernel, *kernel.Error) {
	cfg.applyDefaults()

	plat, err := hal.Detect(bi.ArchName)
	if err != nil {
		return nil, err
	}
	bootinfo.Set(bi)
	kernel.SetHaltFn(plat.Halt)
	hal.DumpDescriptor(nil, plat.Descriptor())

	frames := pmm.NewAllocator(plat)
	if err = frames.Init(bi); err != nil {
		return nil, err
	}

	spaces := vmm.NewManager(plat, frames)

	heap, err := kheap.NewHeap(plat, cfg.HeapBase, cfg.HeapSize)
	if err != nil {
		return nil, err
	}

	vectors := irq.NewDispatcher(plat)

	sched, err := proc.NewScheduler(plat, spaces, cfg.Quantum)
	if err != nil {
		return nil, err
	}
	channels := ipc.NewManager(plat, sched)
	syscalls := syscall.NewDispatcher(plat, sched, spaces, frames, channels)

	k := &Kernel{
		Plat:     plat,
		Frames:   frames,
		Spaces:   spaces,
		Heap:     heap,
		Vectors:  vectors,
		Sched:    sched,
		Channels: channels,
		Syscalls: syscalls,
		Devices:  device.NewManager(vectors),
	}

	if err = k.bindVectors(); err != nil {
		return nil, err
	}
	if err = k.probeDevices(cfg.TimerHz); err != nil {
		return nil, err
	}
	if err = k.startInit(cfg.InitPriority); err != nil {
		return nil, err
	}

	plat.EnableInterrupts()
	k.logBootSummary()
	return k, nil
}

// bindVectors installs the kernel's own trap handlers: page faults route
// to the memory manager first, syscalls to the dispatcher, and any
// unresolvable user-mode trap terminates the offending task.
func (k *Kernel) bindVectors() *kernel.Error {
	if err := k.Vectors.Register(irq.VectorPageFault, k.handlePageFault); err != nil {
		return err
	}
	if err := k.Vectors.Register(irq.VectorSyscall, k.Syscalls.Invoke); err != nil {
		return err
	}

	k.Vectors.SetTerminateFn(func(ctx *hal.Context) {
		if current := k.Sched.Current(); current != nil {
			k.Sched.Terminate(current.PID(), ctx.Vector)
		}
	})
	return nil
}

// handlePageFault gives the memory manager the first chance to resolve a
// fault by demand-mapping; only when no valid region covers the address
// does the trap escalate to task termination.
func (k *Kernel) handlePageFault(ctx *hal.Context) irq.Disposition {
	current := k.Sched.Current()
	if current == nil {
		return irq.TerminateTask
	}

	faultAddr := k.Plat.ReadControlReg(hal.RegFaultAddress)
	if err := k.Spaces.HandleFault(current.Space(), faultAddr); err != nil {
		return irq.TerminateTask
	}
	return irq.Resume
}

// probeDevices runs the driver probe pass and wires the tick source to
// the scheduler. A system without a timer cannot preempt and does not
// boot.
func (k *Kernel) probeDevices(hz uint32) *kernel.Error {
	k.Devices.Probe(device.DriverList())

	for _, drv := range k.Devices.Active() {
		if tick, ok := drv.(*timer.Device); ok {
			k.Timer = tick
			break
		}
	}
	if k.Timer == nil {
		return errNoTimer
	}

	k.Timer.SetTickFn(func() { k.Sched.Tick() })
	return nil
}

// startInit creates the initial task with the full initial capability set
// and dispatches it.
func (k *Kernel) startInit(priority uint8) *kernel.Error {
	init, err := k.Sched.Create("init", priority, 0, 0)
	if err != nil {
		return err
	}

	init.Caps().Grant(cap.ResourceProcTable, cap.RightCreate)
	init.Caps().Grant(cap.ResourceChannelTable, cap.RightCreate)
	init.Caps().Grant(cap.Resource{Kind: cap.KindSpace, ID: uint32(init.Space())}, cap.RightMap|cap.RightUnmap)

	// Device access starts concentrated in init, which parcels it out to
	// its children over IPC.
	for _, drv := range k.Devices.Active() {
		reg := drv.Registration()
		init.Caps().Grant(reg.Resource, reg.Rights)
	}

	// Faults inside these regions demand-map instead of terminating.
	heap := vmm.Region{Start: mm.PageFromAddress(initHeapStart), End: mm.PageFromAddress(initHeapEnd)}
	stack := vmm.Region{Start: mm.PageFromAddress(initStackBottom), End: mm.PageFromAddress(initStackTop)}
	if serr := k.Spaces.SetHeapRegion(init.Space(), heap); serr != nil {
		return serr
	}
	if serr := k.Spaces.SetStackRegion(init.Space(), stack); serr != nil {
		return serr
	}

	k.Init = init
	k.Sched.Schedule()
	return nil
}

// logBootSummary prints the memory, process and driver inventory.
func (k *Kernel) logBootSummary() {
	stats := k.Frames.Stats()
	kfmt.Printf("[kmain] %d frames total, %d reserved, %d free\n",
		stats.TotalFrames, stats.ReservedFrames, stats.FreeFrames)
	k.Heap.DumpTo(nil)
	k.Devices.DumpTo(nil)
	k.Sched.DumpTo(nil)
	kfmt.Printf("[kmain] boot complete, init pid %d running\n", k.Init.PID())
}
