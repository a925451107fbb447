package proc

import (
	"io"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/mm/vmm"
	kwsync "github.com/southwarridev/kewveOs/kernel/sync"
)

// DefaultQuantum is the scheduling quantum in timer ticks used when the
// boot configuration does not override it.
const DefaultQuantum = 10

var (
	// ErrInvalidPID is returned when an operation names a PID with no
	// live descriptor.
	ErrInvalidPID = &kernel.Error{Module: "proc", Message: "no such process", Code: kernel.CodeInvalidHandle}

	errBadPriority   = &kernel.Error{Module: "proc", Message: "priority out of range"}
	errBadQuantum    = &kernel.Error{Module: "proc", Message: "quantum must be at least one tick"}
	errBadTransition = &kernel.Error{Module: "proc", Message: "illegal process state transition"}
)

// TerminateHookFn runs at the start of process teardown, before the
// process loses its address space and capabilities. The IPC layer uses it
// to drop the dying process from wait queues and to return in-flight
// capabilities.
type TerminateHookFn func(p *Process)

// Scheduler owns the process arena, the per-priority ready queues and the
// running slot. Exactly one process is Running at a time; everything else
// is Ready, Blocked or Terminated.
type Scheduler struct {
	lock   *kwsync.IRQLock
	spaces *vmm.Manager

	procs   map[PID]*Process
	nextPID PID

	// ready holds Ready PIDs per priority level, FIFO within a level.
	// Higher-numbered levels are drained first.
	ready [NumPriorities][]PID

	running PID

	quantum   uint32
	remaining uint32

	hooks []TerminateHookFn

	switches uint64
}

// NewScheduler returns a scheduler with an empty process arena. quantum is
// the number of timer ticks a process runs before preemption.
func NewScheduler(plat hal.Platform, spaces *vmm.Manager, quantum uint32) (*Scheduler, *kernel.Error) {
	if quantum == 0 {
		return nil, errBadQuantum
	}

	return &Scheduler{
		lock:    kwsync.NewIRQLock(plat),
		spaces:  spaces,
		procs:   make(map[PID]*Process),
		quantum: quantum,
	}, nil
}

// AddTerminateHook registers fn to run during every process termination.
func (s *Scheduler) AddTerminateHook(fn TerminateHookFn) {
	s.hooks = append(s.hooks, fn)
}

// Create allocates a process with its own address space and capability
// table and enqueues it as Ready. When parent names a live process the
// child inherits the parent's capabilities narrowed by inherit; otherwise
// the child starts with an empty table.
func (s *Scheduler) Create(name string, priority uint8, parent PID, inherit cap.Rights) (*Process, *kernel.Error) {
	if priority >= NumPriorities {
		return nil, errBadPriority
	}

	space, err := s.spaces.Create()
	if err != nil {
		return nil, err
	}

	s.lock.Acquire()
	defer s.lock.Release()

	table := cap.NewTable()
	if parentProc := s.procs[parent]; parentProc != nil && parentProc.state != StateTerminated {
		table = parentProc.caps.Clone(inherit)
	} else {
		parent = 0
	}

	s.nextPID++
	p := &Process{
		pid:      s.nextPID,
		name:     name,
		state:    StateReady,
		priority: priority,
		space:    space,
		caps:     table,
		parent:   parent,
	}
	p.ctx.Priv = hal.PrivUser

	s.procs[p.pid] = p
	s.enqueue(p)
	return p, nil
}

// Process returns the descriptor for pid.
func (s *Scheduler) Process(pid PID) (*Process, *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	p := s.procs[pid]
	if p == nil {
		return nil, ErrInvalidPID
	}
	return p, nil
}

// Current returns the Running process, nil when the CPU is idle.
func (s *Scheduler) Current() *Process {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.procs[s.running]
}

// Schedule picks the highest-priority Ready process and makes it Running.
// It is called at boot to start the first process and internally after
// every transition that vacates the running slot.
func (s *Scheduler) Schedule() *Process {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.schedule()
}

// schedule dispatches the next Ready process. Caller must hold the lock.
func (s *Scheduler) schedule() *Process {
	for level := NumPriorities - 1; level >= 0; level-- {
		queue := s.ready[level]
		if len(queue) == 0 {
			continue
		}

		next := s.procs[queue[0]]
		s.ready[level] = queue[1:]

		next.state = StateRunning
		s.running = next.pid
		s.remaining = s.quantum
		s.switches++

		if err := s.spaces.Activate(next.space); err != nil {
			kernel.Panic(err)
		}
		return next
	}

	s.running = 0
	return nil
}

// enqueue appends p to the back of its priority's ready queue. Caller must
// hold the lock and have set p.state to StateReady.
func (s *Scheduler) enqueue(p *Process) {
	s.ready[p.priority] = append(s.ready[p.priority], p.pid)
}

// dequeue removes pid from its ready queue if present. Caller must hold
// the lock.
func (s *Scheduler) dequeue(p *Process) {
	queue := s.ready[p.priority]
	for i, pid := range queue {
		if pid == p.pid {
			s.ready[p.priority] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// Yield moves the Running process to the back of its ready queue and
// dispatches the next one. With a single runnable process Yield is a
// no-op apart from resetting the quantum.
func (s *Scheduler) Yield() *Process {
	s.lock.Acquire()
	defer s.lock.Release()

	if current := s.procs[s.running]; current != nil {
		current.state = StateReady
		s.enqueue(current)
	}
	return s.schedule()
}

// Tick advances the scheduling clock by one timer tick. When the Running
// process exhausts its quantum it moves back to Ready and the next process
// is dispatched. Tick returns the process that should run after the tick,
// nil when the CPU is idle.
func (s *Scheduler) Tick() *Process {
	s.lock.Acquire()
	defer s.lock.Release()

	current := s.procs[s.running]
	if current == nil {
		// Idle; a wakeup may have made someone Ready since the last
		// tick.
		return s.schedule()
	}

	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		return current
	}

	current.state = StateReady
	s.enqueue(current)
	return s.schedule()
}

// Block parks pid with the given reason. The tag lets the subsystem that
// parked the process find its waiter later, e.g. a channel handle. Blocking
// the Running process vacates the running slot and dispatches the next
// process.
func (s *Scheduler) Block(pid PID, reason BlockReason, tag uint32) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	p := s.procs[pid]
	if p == nil {
		return ErrInvalidPID
	}

	switch p.state {
	case StateRunning:
		s.running = 0
	case StateReady:
		s.dequeue(p)
	default:
		return errBadTransition
	}

	p.state = StateBlocked
	p.blockReason = reason
	p.blockTag = tag

	if s.running == 0 {
		s.schedule()
	}
	return nil
}

// Unblock moves a Blocked process back to Ready. It does not preempt the
// Running process; the woken process waits its turn in the ready queue.
func (s *Scheduler) Unblock(pid PID) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	p := s.procs[pid]
	if p == nil {
		return ErrInvalidPID
	}
	if p.state != StateBlocked {
		return errBadTransition
	}

	p.state = StateReady
	p.blockReason = ReasonNone
	p.blockTag = 0
	s.enqueue(p)
	return nil
}

// Terminate tears down pid: the termination hooks run first, then the
// process loses its capabilities and its address space, with every frame
// the space owned returning to the frame allocator. The exit status is
// retained on the descriptor so the parent can collect it. Terminating the
// Running process forces an immediate reschedule.
func (s *Scheduler) Terminate(pid PID, status uint64) *kernel.Error {
	s.lock.Acquire()
	p := s.procs[pid]
	if p == nil || p.state == StateTerminated {
		s.lock.Release()
		return ErrInvalidPID
	}
	s.lock.Release()

	// Hooks run unlocked so they can call back into the scheduler, e.g.
	// to wake a peer that was blocked on the dying process's channel.
	for _, hook := range s.hooks {
		hook(p)
	}

	s.lock.Acquire()
	defer s.lock.Release()

	switch p.state {
	case StateRunning:
		s.running = 0
	case StateReady:
		s.dequeue(p)
	}

	p.state = StateTerminated
	p.exitStatus = status
	p.blockReason = ReasonNone
	p.caps.Clear()

	if err := s.spaces.Destroy(p.space); err != nil {
		kernel.Panic(err)
	}

	if s.running == 0 {
		s.schedule()
	}
	return nil
}

// CollectExit returns the exit status of a Terminated child of parent and
// retires the descriptor. It fails while the child still runs.
func (s *Scheduler) CollectExit(parent, child PID) (uint64, *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	p := s.procs[child]
	if p == nil || p.parent != parent {
		return 0, ErrInvalidPID
	}
	if p.state != StateTerminated {
		return 0, errBadTransition
	}

	delete(s.procs, child)
	return p.exitStatus, nil
}

// Count returns the number of live descriptors in the arena.
func (s *Scheduler) Count() int {
	s.lock.Acquire()
	defer s.lock.Release()

	return len(s.procs)
}

// DumpTo writes a process listing to w.
func (s *Scheduler) DumpTo(w io.Writer) {
	s.lock.Acquire()
	defer s.lock.Release()

	kfmt.Fprintf(w, "[proc] %d processes, %d context switches\n", len(s.procs), s.switches)
	for pid := PID(1); pid <= s.nextPID; pid++ {
		p := s.procs[pid]
		if p == nil {
			continue
		}
		kfmt.Fprintf(w, "[proc]   pid %d %q prio %d state %s\n", p.pid, p.name, p.priority, p.state)
	}
}
