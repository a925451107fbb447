package ipc

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
	"github.com/southwarridev/kewveOs/kernel/proc"
)

func testManager(t *testing.T) (*Manager, *proc.Scheduler) {
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

	sched, err := proc.NewScheduler(plat, vmm.NewManager(plat, frames), proc.DefaultQuantum)
	require.Nil(t, err)

	return NewManager(plat, sched), sched
}

func spawn(t *testing.T, sched *proc.Scheduler, name string) *proc.Process {
	t.Helper()

	p, err := sched.Create(name, 4, 0, 0)
	require.Nil(t, err)
	return p
}

func TestSendReceiveRoundTrip(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	payload := []byte("ping")
	require.Nil(t, m.Send(sender.PID(), ch, payload, nil, false))

	got, err := m.Receive(receiver.PID(), ch, false)
	require.Nil(t, err)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, sender.PID(), got.Sender)

	// The delivered payload is a private copy.
	payload[0] = 'X'
	assert.Equal(t, byte('p'), got.Payload[0])
}

func TestNonBlockingWouldBlock(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	ch, err := m.Create(1)
	require.Nil(t, err)

	_, rerr := m.Receive(receiver.PID(), ch, false)
	assert.Equal(t, ErrWouldBlock, rerr, "non-blocking receive on empty mailbox")

	require.Nil(t, m.Send(sender.PID(), ch, []byte("a"), nil, false))
	assert.Equal(t, ErrWouldBlock, m.Send(sender.PID(), ch, []byte("b"), nil, false), "non-blocking send on full mailbox")

	pending, perr := m.Pending(ch)
	require.Nil(t, perr)
	assert.Equal(t, 1, pending, "failed send must not enqueue")
}

func TestBlockingReceiveWakesOnSend(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	_, rerr := m.Receive(receiver.PID(), ch, true)
	require.Nil(t, rerr)
	assert.Equal(t, proc.StateBlocked, receiver.State())
	assert.Equal(t, proc.ReasonIPCReceive, receiver.Reason())

	payload := []byte("wake up")
	require.Nil(t, m.Send(sender.PID(), ch, payload, nil, false))
	assert.Equal(t, proc.StateReady, receiver.State())

	got, cerr := m.Collect(receiver.PID())
	require.Nil(t, cerr)
	assert.Equal(t, payload, got.Payload)

	// The rendezvous bypassed the mailbox entirely.
	pending, perr := m.Pending(ch)
	require.Nil(t, perr)
	assert.Equal(t, 0, pending)
}

func TestBlockingSendWaitsForSpace(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	ch, err := m.Create(1)
	require.Nil(t, err)

	require.Nil(t, m.Send(sender.PID(), ch, []byte("first"), nil, true))
	require.Nil(t, m.Send(sender.PID(), ch, []byte("second"), nil, true))
	assert.Equal(t, proc.StateBlocked, sender.State())
	assert.Equal(t, proc.ReasonIPCSend, sender.Reason())

	// Draining one slot admits the parked sender and preserves order.
	first, rerr := m.Receive(receiver.PID(), ch, false)
	require.Nil(t, rerr)
	assert.Equal(t, []byte("first"), first.Payload)
	assert.Equal(t, proc.StateReady, sender.State())

	second, rerr := m.Receive(receiver.PID(), ch, false)
	require.Nil(t, rerr)
	assert.Equal(t, []byte("second"), second.Payload)
}

func TestCapabilityTransfer(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	resource := cap.Resource{Kind: cap.KindDevice, ID: 5}
	sender.Caps().Grant(resource, cap.RightSend|cap.RightQuery)

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	transfer := &Transfer{Resource: resource, Rights: cap.RightQuery}
	require.Nil(t, m.Send(sender.PID(), ch, []byte("take it"), transfer, false))

	// The transferred rights left the sender at send time; untransferred
	// rights on the same resource stay behind.
	assert.False(t, sender.Caps().Holds(resource, cap.RightQuery))
	assert.True(t, sender.Caps().Holds(resource, cap.RightSend))
	assert.False(t, receiver.Caps().Holds(resource, cap.RightQuery), "capability must stay in flight until delivery")

	got, rerr := m.Receive(receiver.PID(), ch, false)
	require.Nil(t, rerr)
	assert.True(t, got.HasCap)
	assert.True(t, receiver.Caps().Holds(resource, cap.RightQuery))
}

func TestTransferWithoutRightsFails(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	resource := cap.Resource{Kind: cap.KindDevice, ID: 5}
	serr := m.Send(sender.PID(), ch, []byte("x"), &Transfer{Resource: resource, Rights: cap.RightQuery}, false)
	assert.NotNil(t, serr)

	pending, perr := m.Pending(ch)
	require.Nil(t, perr)
	assert.Equal(t, 0, pending)
}

func TestReceiverDeathReturnsCapability(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	resource := cap.Resource{Kind: cap.KindDevice, ID: 9}
	sender.Caps().Grant(resource, cap.RightQuery)

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	// Receiver parks, sender delivers with a capability attached, then
	// the receiver dies before collecting.
	_, rerr := m.Receive(receiver.PID(), ch, true)
	require.Nil(t, rerr)
	require.Nil(t, m.Send(sender.PID(), ch, []byte("doomed"), &Transfer{Resource: resource, Rights: cap.RightQuery}, false))
	require.Nil(t, sched.Terminate(receiver.PID(), 1))

	assert.True(t, sender.Caps().Holds(resource, cap.RightQuery), "in-flight capability must return to the sender")
	assert.Equal(t, 0, receiver.Caps().Len())

	_, cerr := m.Collect(receiver.PID())
	assert.NotNil(t, cerr)
}

func TestDestroyWakesWaitersAndReturnsCaps(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")
	receiver := spawn(t, sched, "receiver")

	resource := cap.Resource{Kind: cap.KindDevice, ID: 2}
	sender.Caps().Grant(resource, cap.RightQuery)

	ch, err := m.Create(1)
	require.Nil(t, err)

	require.Nil(t, m.Send(sender.PID(), ch, []byte("queued"), &Transfer{Resource: resource, Rights: cap.RightQuery}, false))

	// Park the sender on the now-full mailbox and a receiver on a second
	// channel so both waiter kinds are exercised.
	require.Nil(t, m.Send(sender.PID(), ch, []byte("waiting"), nil, true))
	ch2, err := m.Create(1)
	require.Nil(t, err)
	_, rerr := m.Receive(receiver.PID(), ch2, true)
	require.Nil(t, rerr)

	require.Nil(t, m.Destroy(ch))
	require.Nil(t, m.Destroy(ch2))

	assert.Equal(t, proc.StateReady, sender.State())
	assert.Equal(t, proc.StateReady, receiver.State())
	assert.True(t, sender.Caps().Holds(resource, cap.RightQuery), "queued capability must return on destroy")

	// The parked sender wakes without a completion; only the parked
	// receiver carries the channel-gone error to its retry.
	_, cerr := m.Collect(sender.PID())
	assert.NotEqual(t, ErrInvalidChannel, cerr)
	_, cerr = m.Collect(receiver.PID())
	assert.Equal(t, ErrInvalidChannel, cerr)

	assert.Equal(t, ErrInvalidChannel, m.Destroy(ch))
}

func TestPayloadSizeLimit(t *testing.T) {
	m, sched := testManager(t)
	sender := spawn(t, sched, "sender")

	ch, err := m.Create(DefaultMailboxSlots)
	require.Nil(t, err)

	big := make([]byte, MaxPayloadBytes+1)
	assert.NotNil(t, m.Send(sender.PID(), ch, big, nil, false))

	exact := make([]byte, MaxPayloadBytes)
	assert.Nil(t, m.Send(sender.PID(), ch, exact, nil, false))
}
