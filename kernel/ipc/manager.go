package ipc

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/proc"
	kwsync "github.com/southwarridev/kewveOs/kernel/sync"
)

// Manager owns the channel arena. It parks and wakes processes through the
// scheduler; Block/Unblock is the only wait primitive used, there is no
// busy-waiting anywhere in the package.
type Manager struct {
	lock  *kwsync.IRQLock
	sched *proc.Scheduler

	channels   map[Handle]*channel
	nextHandle Handle

	// completions holds messages delivered to receivers that were parked
	// at delivery time, keyed by receiver until collected.
	completions map[proc.PID]completion
}

// NewManager returns a channel manager bound to sched. It hooks process
// termination so a dying process is dropped from every wait queue and any
// capability in flight toward it returns to the sender.
func NewManager(plat hal.Platform, sched *proc.Scheduler) *Manager {
	m := &Manager{
		lock:        kwsync.NewIRQLock(plat),
		sched:       sched,
		channels:    make(map[Handle]*channel),
		completions: make(map[proc.PID]completion),
	}
	sched.AddTerminateHook(m.reapProcess)
	return m
}

// Create allocates a channel with the given mailbox capacity.
func (m *Manager) Create(slots int) (Handle, *kernel.Error) {
	if slots < 1 {
		return 0, errBadSlotCount
	}

	m.lock.Acquire()
	defer m.lock.Release()

	m.nextHandle++
	ch := &channel{handle: m.nextHandle, slots: slots}
	m.channels[ch.handle] = ch
	return ch.handle, nil
}

// Send places a message on channel h. If a receiver is parked on the
// channel the message is delivered to it directly and the receiver wakes.
// Otherwise the message queues in the mailbox; when the mailbox is full a
// blocking send parks the caller until space opens, and a non-blocking
// send fails with ErrWouldBlock.
//
// When transfer is non-nil the named capability moves out of the sender's
// table now and reaches the receiver's table atomically with delivery; no
// interleaving can observe the capability in both tables or in neither
// once the message is delivered.
func (m *Manager) Send(sender proc.PID, h Handle, payload []byte, transfer *Transfer, block bool) *kernel.Error {
	if len(payload) > MaxPayloadBytes {
		return errPayloadTooLarge
	}

	senderProc, err := m.sched.Process(sender)
	if err != nil {
		return err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	ch := m.channels[h]
	if ch == nil {
		return ErrInvalidChannel
	}

	// Refuse before any state changes so a failed send has no side
	// effect at all.
	if !block && len(ch.recvWaiters) == 0 && len(ch.queue) >= ch.slots {
		return ErrWouldBlock
	}
	if transfer != nil && !senderProc.Caps().Holds(transfer.Resource, transfer.Rights) {
		return errMissingRights
	}

	msg := Message{
		Payload: append([]byte(nil), payload...),
		Sender:  sender,
	}
	if transfer != nil {
		takeRights(senderProc.Caps(), transfer.Resource, transfer.Rights)
		msg.HasCap = true
		msg.CapName = transfer.Resource
		msg.CapBits = transfer.Rights
	}

	if len(ch.recvWaiters) > 0 {
		receiver := ch.recvWaiters[0]
		ch.recvWaiters = ch.recvWaiters[1:]
		m.deliver(receiver, msg)
		return nil
	}

	if len(ch.queue) < ch.slots {
		ch.queue = append(ch.queue, msg)
		return nil
	}

	// Mailbox full; park the sender with the message attached.
	ch.sendWaiters = append(ch.sendWaiters, pendingSend{sender: sender, msg: msg})
	if err := m.sched.Block(sender, proc.ReasonIPCSend, uint32(h)); err != nil {
		ch.sendWaiters = ch.sendWaiters[:len(ch.sendWaiters)-1]
		m.returnCap(msg)
		return err
	}
	return nil
}

// Receive takes the oldest message off channel h. On an empty mailbox a
// non-blocking receive fails with ErrWouldBlock; a blocking receive parks
// the caller, and the message that eventually wakes it is retrieved with
// Collect.
func (m *Manager) Receive(receiver proc.PID, h Handle, block bool) (Message, *kernel.Error) {
	receiverProc, err := m.sched.Process(receiver)
	if err != nil {
		return Message{}, err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	ch := m.channels[h]
	if ch == nil {
		return Message{}, ErrInvalidChannel
	}

	if len(ch.queue) > 0 {
		msg := ch.queue[0]
		ch.queue = ch.queue[1:]
		m.grantCap(receiverProc, msg)
		m.admitWaitingSender(ch)
		return msg, nil
	}

	if !block {
		return Message{}, ErrWouldBlock
	}

	ch.recvWaiters = append(ch.recvWaiters, receiver)
	if err := m.sched.Block(receiver, proc.ReasonIPCReceive, uint32(h)); err != nil {
		ch.recvWaiters = ch.recvWaiters[:len(ch.recvWaiters)-1]
		return Message{}, err
	}
	return Message{}, nil
}

// Collect retrieves the message delivered to a receiver that was parked
// when its sender arrived. The syscall return path calls Collect after the
// scheduler resumes the woken process. Any capability carried by the
// message enters the receiver's table here, so payload and capability
// arrive in the same step.
func (m *Manager) Collect(pid proc.PID) (Message, *kernel.Error) {
	receiverProc, err := m.sched.Process(pid)
	if err != nil {
		return Message{}, err
	}

	m.lock.Acquire()
	defer m.lock.Release()

	done, ok := m.completions[pid]
	if !ok {
		return Message{}, errNoCompletion
	}
	delete(m.completions, pid)

	if done.err == nil {
		m.grantCap(receiverProc, done.msg)
	}
	return done.msg, done.err
}

// Pending returns the number of queued messages in channel h.
func (m *Manager) Pending(h Handle) (int, *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	ch := m.channels[h]
	if ch == nil {
		return 0, ErrInvalidChannel
	}
	return len(ch.queue), nil
}

// Destroy tears down channel h. Every queued in-flight capability returns
// to its sender, parked senders wake with their message discarded and its
// capability restored, and parked receivers wake with ErrInvalidChannel.
func (m *Manager) Destroy(h Handle) *kernel.Error {
	m.lock.Acquire()
	defer m.lock.Release()

	ch := m.channels[h]
	if ch == nil {
		return ErrInvalidChannel
	}
	delete(m.channels, h)

	for _, msg := range ch.queue {
		m.returnCap(msg)
	}
	for _, pending := range ch.sendWaiters {
		m.returnCap(pending.msg)
		m.sched.Unblock(pending.sender)
	}
	for _, receiver := range ch.recvWaiters {
		m.completions[receiver] = completion{err: ErrInvalidChannel}
		m.sched.Unblock(receiver)
	}
	return nil
}

// deliver parks msg as the receiver's completion and wakes it. The
// message's capability stays in flight until the receiver collects, so a
// receiver that dies before collecting never held it. Caller must hold
// the lock.
func (m *Manager) deliver(receiver proc.PID, msg Message) {
	m.completions[receiver] = completion{msg: msg}
	m.sched.Unblock(receiver)
}

// admitWaitingSender moves the oldest parked sender's message into the
// mailbox slot the caller just vacated and wakes the sender. Caller must
// hold the lock.
func (m *Manager) admitWaitingSender(ch *channel) {
	if len(ch.sendWaiters) == 0 {
		return
	}

	pending := ch.sendWaiters[0]
	ch.sendWaiters = ch.sendWaiters[1:]
	ch.queue = append(ch.queue, pending.msg)
	m.sched.Unblock(pending.sender)
}

// grantCap places msg's in-flight capability into the receiver's table.
// Caller must hold the lock.
func (m *Manager) grantCap(receiver *proc.Process, msg Message) {
	if msg.HasCap {
		receiver.Caps().Grant(msg.CapName, msg.CapBits)
	}
}

// returnCap hands msg's in-flight capability back to the sender, if the
// sender still lives. Caller must hold the lock.
func (m *Manager) returnCap(msg Message) {
	if !msg.HasCap {
		return
	}
	if senderProc, err := m.sched.Process(msg.Sender); err == nil && senderProc.State() != proc.StateTerminated {
		senderProc.Caps().Grant(msg.CapName, msg.CapBits)
	}
}

// reapProcess runs as a scheduler termination hook. It removes the dying
// process from every wait queue, discards its uncollected completion, and
// returns any capability that was in flight toward it to the sender.
func (m *Manager) reapProcess(p *proc.Process) {
	m.lock.Acquire()
	defer m.lock.Release()

	pid := p.PID()

	for _, ch := range m.channels {
		for i, pending := range ch.sendWaiters {
			if pending.sender == pid {
				ch.sendWaiters = append(ch.sendWaiters[:i], ch.sendWaiters[i+1:]...)
				break
			}
		}
		for i, receiver := range ch.recvWaiters {
			if receiver == pid {
				ch.recvWaiters = append(ch.recvWaiters[:i], ch.recvWaiters[i+1:]...)
				break
			}
		}
	}

	// A message delivered but never collected must not strand its
	// capability: the receiver died mid-transfer and never held it, so
	// it goes back to the sender.
	if done, ok := m.completions[pid]; ok {
		delete(m.completions, pid)
		m.returnCap(done.msg)
	}
}

// takeRights removes exactly rights on resource from table, leaving any
// other rights on the same resource in place. Caller verified Holds.
func takeRights(table *cap.Table, resource cap.Resource, rights cap.Rights) {
	table.Narrow(resource, table.Rights(resource)&^rights)
}
