// Package cap implements the kernel's capability model. A capability names
// one kernel resource together with the set of operations its holder may
// invoke on it. Capabilities are granted by the kernel at process creation
// or transferred over IPC; a holder can narrow or give away what it has but
// can never widen it.
package cap

import "github.com/southwarridev/kewveOs/kernel"

// Rights is the bitset of operations a capability permits.
type Rights uint16

const (
	RightSend Rights = 1 << iota
	RightReceive
	RightMap
	RightUnmap
	RightCreate
	RightTerminate
	RightQuery
)

// ResourceKind partitions the resource handle namespace.
type ResourceKind uint8

const (
	KindProcess ResourceKind = iota
	KindChannel
	KindSpace
	KindDevice
)

// String implements fmt.Stringer for ResourceKind.
func (k ResourceKind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindChannel:
		return "channel"
	case KindSpace:
		return "space"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Resource names one kernel object a capability can refer to. The ID is an
// integer handle in the namespace selected by Kind.
type Resource struct {
	Kind ResourceKind
	ID   uint32
}

// Well-known resources. The tables themselves are resources so that the
// right to create processes or channels is itself capability-gated.
var (
	ResourceProcTable    = Resource{Kind: KindProcess, ID: 0}
	ResourceChannelTable = Resource{Kind: KindChannel, ID: 0}
)

// ErrInvalidHandle is returned when an operation names a resource the
// table has no entry for.
var ErrInvalidHandle = &kernel.Error{Module: "cap", Message: "no capability entry for resource", Code: kernel.CodeInvalidHandle}

// Table is one process's capability table. It is not safe for concurrent
// use; callers serialize access the same way they do for the rest of the
// process descriptor, with interrupts masked.
type Table struct {
	entries map[Resource]Rights
}

// NewTable returns an empty capability table.
func NewTable() *Table {
	return &Table{entries: make(map[Resource]Rights)}
}

// Grant adds rights on resource to the table, merging with any rights
// already present. Grant is the kernel's privilege; no syscall path leads
// here.
func (t *Table) Grant(resource Resource, rights Rights) {
	if rights == 0 {
		return
	}
	t.entries[resource] |= rights
}

// Holds reports whether the table permits every right in rights on
// resource.
func (t *Table) Holds(resource Resource, rights Rights) bool {
	return t.entries[resource]&rights == rights
}

// Rights returns the rights held on resource, zero if none.
func (t *Table) Rights(resource Resource) Rights {
	return t.entries[resource]
}

// Narrow reduces the entry for resource to the intersection of its current
// rights and keep. Narrowing to the empty set removes the entry.
func (t *Table) Narrow(resource Resource, keep Rights) *kernel.Error {
	held, ok := t.entries[resource]
	if !ok {
		return ErrInvalidHandle
	}

	if held &= keep; held == 0 {
		delete(t.entries, resource)
	} else {
		t.entries[resource] = held
	}
	return nil
}

// Transfer moves the entry for resource into dst, merging with any rights
// dst already holds. The source entry is removed so a transfer never
// duplicates authority.
func (t *Table) Transfer(resource Resource, dst *Table) *kernel.Error {
	held, ok := t.entries[resource]
	if !ok {
		return ErrInvalidHandle
	}

	delete(t.entries, resource)
	dst.Grant(resource, held)
	return nil
}

// Clone returns a new table holding this table's entries narrowed by mask.
// Entries whose intersection with mask is empty are not inherited. Process
// creation uses Clone to hand a child a subset of the parent's authority.
func (t *Table) Clone(mask Rights) *Table {
	child := NewTable()
	for resource, held := range t.entries {
		if inherited := held & mask; inherited != 0 {
			child.entries[resource] = inherited
		}
	}
	return child
}

// Remove deletes the entry for resource.
func (t *Table) Remove(resource Resource) *kernel.Error {
	if _, ok := t.entries[resource]; !ok {
		return ErrInvalidHandle
	}
	delete(t.entries, resource)
	return nil
}

// Clear drops every entry. Process termination calls Clear so a dead
// process retains no authority.
func (t *Table) Clear() {
	t.entries = make(map[Resource]Rights)
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.entries)
}
