package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/hal/bootinfo"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/mm/pmm"
	"github.com/southwarridev/kewveOs/kernel/mm/vmm"
)

func testScheduler(t *testing.T, quantum uint32) (*Scheduler, *vmm.Manager, *pmm.Allocator) {
	t.Helper()

	plat := hal.NewX86Platform()
	frames := pmm.NewAllocator(plat)
	err := frames.Init(&bootinfo.Info{
		ArchName: "x86_64",
		MemoryMap: []bootinfo.MemoryRegion{
			{PhysAddress: 0, Length: 128 * mm.PageSize, Type: bootinfo.RegionAvailable},
		},
	})
	require.Nil(t, err)

	spaces := vmm.NewManager(plat, frames)
	sched, err := NewScheduler(plat, spaces, quantum)
	require.Nil(t, err)

	return sched, spaces, frames
}

func TestCreateAssignsFreshDescriptors(t *testing.T) {
	sched, spaces, _ := testScheduler(t, DefaultQuantum)

	a, err := sched.Create("init", 4, 0, 0)
	require.Nil(t, err)
	b, err := sched.Create("shell", 4, 0, 0)
	require.Nil(t, err)

	assert.NotEqual(t, a.PID(), b.PID())
	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, "init", a.Name())
	assert.Equal(t, hal.PrivUser, a.Context().Priv)
	assert.Equal(t, PID(0), a.Parent())

	// Each process owns a distinct address space.
	assert.NotEqual(t, a.Space(), b.Space())
	_, serr := spaces.Space(a.Space())
	assert.Nil(t, serr)

	_, err = sched.Create("bad", NumPriorities, 0, 0)
	assert.NotNil(t, err)
}

func TestChildInheritsNarrowedCaps(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	parent, err := sched.Create("parent", 4, 0, 0)
	require.Nil(t, err)

	ch := cap.Resource{Kind: cap.KindChannel, ID: 1}
	parent.Caps().Grant(ch, cap.RightSend|cap.RightReceive)
	parent.Caps().Grant(cap.ResourceProcTable, cap.RightCreate)

	child, err := sched.Create("child", 4, parent.PID(), cap.RightSend)
	require.Nil(t, err)

	assert.Equal(t, parent.PID(), child.Parent())
	assert.True(t, child.Caps().Holds(ch, cap.RightSend))
	assert.False(t, child.Caps().Holds(ch, cap.RightReceive))
	assert.False(t, child.Caps().Holds(cap.ResourceProcTable, cap.RightCreate))
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	low, err := sched.Create("low", 2, 0, 0)
	require.Nil(t, err)
	high, err := sched.Create("high", 6, 0, 0)
	require.Nil(t, err)

	running := sched.Schedule()
	require.NotNil(t, running)
	assert.Equal(t, high.PID(), running.PID())
	assert.Equal(t, StateRunning, high.State())
	assert.Equal(t, StateReady, low.State())
}

func TestYieldRoundRobin(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	a, err := sched.Create("a", 4, 0, 0)
	require.Nil(t, err)
	b, err := sched.Create("b", 4, 0, 0)
	require.Nil(t, err)

	require.Equal(t, a.PID(), sched.Schedule().PID())

	// After a single yield the two equal-priority processes alternate.
	exp := []PID{b.PID(), a.PID(), b.PID(), a.PID()}
	for i, pid := range exp {
		next := sched.Yield()
		require.NotNil(t, next)
		assert.Equalf(t, pid, next.PID(), "unexpected process after yield %d", i+1)
	}
}

func TestQuantumPreemption(t *testing.T) {
	sched, _, _ := testScheduler(t, 3)

	a, err := sched.Create("a", 4, 0, 0)
	require.Nil(t, err)
	b, err := sched.Create("b", 4, 0, 0)
	require.Nil(t, err)

	require.Equal(t, a.PID(), sched.Schedule().PID())

	// The first two ticks leave the quantum unexhausted.
	assert.Equal(t, a.PID(), sched.Tick().PID())
	assert.Equal(t, a.PID(), sched.Tick().PID())

	// The third tick preempts and round-robins to b.
	assert.Equal(t, b.PID(), sched.Tick().PID())
	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, StateRunning, b.State())
}

func TestBlockAndUnblock(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	a, err := sched.Create("a", 4, 0, 0)
	require.Nil(t, err)
	b, err := sched.Create("b", 4, 0, 0)
	require.Nil(t, err)

	require.Equal(t, a.PID(), sched.Schedule().PID())

	// Blocking the running process dispatches the next one.
	require.Nil(t, sched.Block(a.PID(), ReasonIPCReceive, 7))
	assert.Equal(t, StateBlocked, a.State())
	assert.Equal(t, ReasonIPCReceive, a.Reason())
	assert.Equal(t, uint32(7), a.BlockTag())
	assert.Equal(t, b.PID(), sched.Current().PID())

	// Unblocking does not preempt; the woken process queues as Ready.
	require.Nil(t, sched.Unblock(a.PID()))
	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, b.PID(), sched.Current().PID())

	assert.NotNil(t, sched.Unblock(a.PID()), "unblocking a Ready process must fail")
	assert.NotNil(t, sched.Block(PID(99), ReasonIPCSend, 0))
}

func TestIdleWhenEveryoneBlocks(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	a, err := sched.Create("a", 4, 0, 0)
	require.Nil(t, err)

	require.Equal(t, a.PID(), sched.Schedule().PID())
	require.Nil(t, sched.Block(a.PID(), ReasonIPCReceive, 0))

	assert.Nil(t, sched.Current())
	assert.Nil(t, sched.Tick())

	// A wakeup ends the idle period on the next tick.
	require.Nil(t, sched.Unblock(a.PID()))
	next := sched.Tick()
	require.NotNil(t, next)
	assert.Equal(t, a.PID(), next.PID())
}

func TestTerminateReleasesEverything(t *testing.T) {
	sched, spaces, frames := testScheduler(t, DefaultQuantum)

	freeBefore := frames.Stats().FreeFrames

	p, err := sched.Create("victim", 4, 0, 0)
	require.Nil(t, err)
	p.Caps().Grant(cap.Resource{Kind: cap.KindChannel, ID: 1}, cap.RightSend)

	backing, err := frames.Allocate(3, pmm.FlagFrameUser)
	require.Nil(t, err)
	require.Nil(t, spaces.Map(p.Space(), mm.PageFromAddress(0x400000), backing, vmm.FlagRead|vmm.FlagUser))

	var hookSaw PID
	sched.AddTerminateHook(func(dead *Process) { hookSaw = dead.PID() })

	require.Equal(t, p.PID(), sched.Schedule().PID())
	require.Nil(t, sched.Terminate(p.PID(), 3))

	assert.Equal(t, p.PID(), hookSaw)
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, uint64(3), p.ExitStatus())
	assert.Equal(t, 0, p.Caps().Len())
	assert.Nil(t, sched.Current())

	// Every frame the address space owned is back in the free pool.
	assert.Equal(t, freeBefore, frames.Stats().FreeFrames)
	_, serr := spaces.Space(p.Space())
	assert.Equal(t, vmm.ErrInvalidSpace, serr)

	assert.Equal(t, ErrInvalidPID, sched.Terminate(p.PID(), 0), "double terminate must fail")
}

func TestTerminateRunningForcesReschedule(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	a, err := sched.Create("a", 4, 0, 0)
	require.Nil(t, err)
	b, err := sched.Create("b", 2, 0, 0)
	require.Nil(t, err)

	require.Equal(t, a.PID(), sched.Schedule().PID())
	require.Nil(t, sched.Terminate(a.PID(), 0))

	assert.Equal(t, b.PID(), sched.Current().PID())
}

func TestCollectExit(t *testing.T) {
	sched, _, _ := testScheduler(t, DefaultQuantum)

	parent, err := sched.Create("parent", 4, 0, 0)
	require.Nil(t, err)
	child, err := sched.Create("child", 4, parent.PID(), 0)
	require.Nil(t, err)

	_, cerr := sched.CollectExit(parent.PID(), child.PID())
	assert.NotNil(t, cerr, "collecting a live child must fail")

	require.Nil(t, sched.Terminate(child.PID(), 42))

	status, cerr := sched.CollectExit(parent.PID(), child.PID())
	require.Nil(t, cerr)
	assert.Equal(t, uint64(42), status)

	// The descriptor is retired once collected.
	_, perr := sched.Process(child.PID())
	assert.Equal(t, ErrInvalidPID, perr)
}
