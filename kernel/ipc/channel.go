// Package ipc implements kernel message channels. A channel is a
// rendezvous point with a bounded mailbox; senders and receivers block
// through the scheduler when the mailbox is full or empty. A message is an
// opaque byte payload plus an optional capability whose transfer is atomic
// with delivery.
package ipc

import (
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/proc"
)

const (
	// DefaultMailboxSlots is the mailbox capacity used when the creator
	// does not ask for another size.
	DefaultMailboxSlots = 8

	// MaxPayloadBytes bounds a single message payload. Larger transfers
	// belong in shared mappings, not mailbox copies.
	MaxPayloadBytes = 128
)

// Handle identifies a channel. Zero is never issued.
type Handle uint32

var (
	// ErrWouldBlock is returned by non-blocking operations that would
	// otherwise park the caller.
	ErrWouldBlock = &kernel.Error{Module: "ipc", Message: "operation would block", Code: kernel.CodeWouldBlock}

	// ErrInvalidChannel is returned when a handle names no live channel.
	ErrInvalidChannel = &kernel.Error{Module: "ipc", Message: "no such channel", Code: kernel.CodeInvalidHandle}

	errPayloadTooLarge = &kernel.Error{Module: "ipc", Message: "payload exceeds message size limit"}
	errBadSlotCount    = &kernel.Error{Module: "ipc", Message: "mailbox must have at least one slot"}
	errMissingRights   = &kernel.Error{Module: "ipc", Message: "sender does not hold the capability to transfer", Code: kernel.CodeInvalidHandle}
	errNoCompletion    = &kernel.Error{Module: "ipc", Message: "no delivered message for process"}
)

// Transfer names a capability to move from the sender's table to the
// receiver's as part of a message.
type Transfer struct {
	Resource cap.Resource
	Rights   cap.Rights
}

// Message is one delivered channel message. Payload is a private copy;
// when HasCap is set the named capability was granted to the receiver
// atomically with delivery.
type Message struct {
	Payload []byte
	Sender  proc.PID

	HasCap  bool
	CapName cap.Resource
	CapBits cap.Rights
}

// pendingSend is a parked sender together with the message it is waiting
// to place into a full mailbox.
type pendingSend struct {
	sender proc.PID
	msg    Message
}

// channel is one mailbox arena record.
type channel struct {
	handle Handle
	slots  int

	// queue holds undelivered messages in send order, at most slots
	// entries. Capabilities attached to queued messages are in flight:
	// removed from the sender, not yet granted to anyone.
	queue []Message

	sendWaiters []pendingSend
	recvWaiters []proc.PID
}

// completion is the outcome of a blocking receive, parked until the woken
// receiver collects it.
type completion struct {
	msg Message
	err *kernel.Error
}
