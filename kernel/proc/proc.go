// Package proc implements process descriptors and the preemptive priority
// scheduler. Descriptors live in an arena keyed by PID; the scheduler owns
// every state transition and is the only writer of the ready queues.
package proc

import (
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/mm/vmm"
)

// PID identifies a process. Zero is never issued and doubles as the "no
// process" value in parent links and the running slot.
type PID uint32

// State tracks a process through its lifecycle. The only legal
// transitions are Ready→Running, Running→{Ready,Blocked,Terminated} and
// Blocked→{Ready,Terminated}. Terminated is terminal.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateTerminated
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// BlockReason records why a process is Blocked. It exists for diagnostics
// and for IPC teardown to find its own waiters.
type BlockReason uint8

const (
	ReasonNone BlockReason = iota
	ReasonIPCSend
	ReasonIPCReceive
)

// NumPriorities is the number of scheduling priority levels. Higher
// numbers are scheduled first.
const NumPriorities = 8

// Process is one process descriptor. All fields are mutated only by the
// scheduler and by syscalls targeting the process, with interrupts masked.
type Process struct {
	pid      PID
	name     string
	state    State
	priority uint8

	space vmm.Handle
	caps  *cap.Table

	// ctx holds the saved register context while the process is not
	// running.
	ctx hal.Context

	parent      PID
	exitStatus  uint64
	blockReason BlockReason

	// blockTag lets the subsystem that parked the process find it again,
	// e.g. the channel handle an IPC waiter is blocked on.
	blockTag uint32
}

func (p *Process) PID() PID              { return p.pid }
func (p *Process) Name() string          { return p.name }
func (p *Process) State() State          { return p.state }
func (p *Process) Priority() uint8       { return p.priority }
func (p *Process) Space() vmm.Handle     { return p.space }
func (p *Process) Caps() *cap.Table      { return p.caps }
func (p *Process) Parent() PID           { return p.parent }
func (p *Process) ExitStatus() uint64    { return p.exitStatus }
func (p *Process) Reason() BlockReason   { return p.blockReason }
func (p *Process) BlockTag() uint32      { return p.blockTag }
func (p *Process) Context() *hal.Context { return &p.ctx }
