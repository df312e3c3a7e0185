// Package fd implements the per-task integer handle table for
// host-managed sessions (spec.md §3 "FD", §4.6) and the epoll-like
// readiness facility that waits across FD kinds.
package fd

import (
	"container/list"
	"fmt"
	"sync"
)

// Kind names the session type a handle refers to.
type Kind string

const (
	KindChat  Kind = "chat"
	KindASR   Kind = "asr"
	KindMic   Kind = "mic"
	KindEpoll Kind = "epoll"
)

// Status is the lifecycle state of a handle's underlying session.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
)

// ReadinessMask mirrors the epoll event bitmask a waiter receives.
type ReadinessMask uint32

const (
	EPOLLIN  ReadinessMask = 1 << 0
	EPOLLOUT ReadinessMask = 1 << 1
	EPOLLERR ReadinessMask = 1 << 2
	EPOLLHUP ReadinessMask = 1 << 3
)

// Session is the kind-specific state behind a handle. Closers are invoked
// synchronously by Table.Close before the integer is returned to the free
// list, per spec.md §3 ("closing an FD releases all associated host
// resources synchronously before returning").
type Session interface {
	Kind() Kind
	Close() error
	// Readiness reports which of EPOLLIN/EPOLLOUT/... currently apply.
	Readiness() ReadinessMask
}

type entry struct {
	fd      int32
	session Session
	status  Status
	blocked bool
}

// Table is a per-task FD table: a dense slice of slots plus a free list of
// reclaimed indices, so handles are reused (spec.md §3: "closing an FD
// releases ... returns the integer to the free list").
type Table struct {
	mu        sync.Mutex
	cond      *sync.Cond
	slots     []*entry
	freeList  *list.List // of int32 indices
	taskID    int64
	closed    bool
}

// NewTable constructs an empty FD table for the given task.
func NewTable(taskID int64) *Table {
	t := &Table{
		slots:    make([]*entry, 0, 16),
		freeList: list.New(),
		taskID:   taskID,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Create allocates a handle for session and returns the non-negative int32
// the guest sees.
func (t *Table) Create(session Session, blocking bool) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("fd: table for task %d is torn down", t.taskID)
	}

	var fd int32
	if e := t.freeList.Front(); e != nil {
		fd = t.freeList.Remove(e).(int32)
	} else {
		fd = int32(len(t.slots))
		t.slots = append(t.slots, nil)
	}
	t.slots[fd] = &entry{fd: fd, session: session, status: StatusOpen, blocked: blocking}
	return fd, nil
}

func (t *Table) lookup(fdNum int32) (*entry, Errno) {
	if fdNum < 0 || int(fdNum) >= len(t.slots) || t.slots[fdNum] == nil {
		return nil, EBADF
	}
	e := t.slots[fdNum]
	if e.status == StatusClosed {
		return nil, EBADF
	}
	return e, 0
}

// Session returns the Session bound to fdNum, or EBADF if unknown/closed.
func (t *Table) Session(fdNum int32) (Session, Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, errno := t.lookup(fdNum)
	if errno != 0 {
		return nil, errno
	}
	return e.session, 0
}

// Close releases the session's host resources synchronously and returns
// fdNum to the free list.
func (t *Table) Close(fdNum int32) Errno {
	t.mu.Lock()
	e, errno := t.lookup(fdNum)
	if errno != 0 {
		t.mu.Unlock()
		return errno
	}
	e.status = StatusClosed
	session := e.session
	t.mu.Unlock()

	if err := session.Close(); err != nil {
		t.withLock(func() {
			t.slots[fdNum] = nil
			t.freeList.PushBack(fdNum)
			t.cond.Broadcast()
		})
		return EIO
	}

	t.withLock(func() {
		t.slots[fdNum] = nil
		t.freeList.PushBack(fdNum)
		t.cond.Broadcast()
	})
	return 0
}

func (t *Table) withLock(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
}

// Notify wakes any epoll waiters blocked on this table; called by a session
// implementation when its readiness changes.
func (t *Table) Notify() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// TeardownAll closes every open handle, logging failures via the supplied
// onErr but continuing through the rest (spec.md §4.6 "torn down on task
// stop").
func (t *Table) TeardownAll(onErr func(fd int32, err error)) {
	t.mu.Lock()
	open := make([]int32, 0, len(t.slots))
	for _, e := range t.slots {
		if e != nil && e.status == StatusOpen {
			open = append(open, e.fd)
		}
	}
	t.closed = true
	t.mu.Unlock()

	for _, fdNum := range open {
		if errno := t.Close(fdNum); errno != 0 && onErr != nil {
			onErr(fdNum, errno)
		}
	}
	t.cond.Broadcast()
}
