package fd

import (
	"time"
)

// Epoll lets a guest wait on a set of FDs within one table until any
// becomes ready or a timeout elapses, honoring readiness uniformly across
// FD kinds via the table's condition variable (spec.md §4.6).
type Epoll struct {
	table *Table
}

// NewEpoll returns an Epoll facility bound to table.
func NewEpoll(table *Table) *Epoll {
	return &Epoll{table: table}
}

// Wait blocks until at least one watched fd reports a non-zero readiness
// mask, the table is torn down, or timeout elapses (timeout <= 0 means wait
// forever). The returned map contains only fds with non-zero readiness.
func (e *Epoll) Wait(fds []int32, timeout time.Duration) (map[int32]ReadinessMask, Errno) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	e.table.mu.Lock()
	defer e.table.mu.Unlock()

	for {
		ready := make(map[int32]ReadinessMask)
		for _, fdNum := range fds {
			ent, errno := e.table.lookup(fdNum)
			if errno != 0 {
				return nil, EBADF
			}
			if mask := ent.session.Readiness(); mask != 0 {
				ready[fdNum] = mask
			}
		}
		if len(ready) > 0 {
			return ready, 0
		}
		if e.table.closed {
			return map[int32]ReadinessMask{}, 0
		}

		if deadline.IsZero() {
			e.table.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return map[int32]ReadinessMask{}, 0
		}
		// sync.Cond has no native timed wait; a timer re-acquires the lock
		// to broadcast a spurious wakeup so this loop re-checks the
		// deadline and readiness on its own.
		timer := time.AfterFunc(remaining, func() {
			e.table.mu.Lock()
			e.table.cond.Broadcast()
			e.table.mu.Unlock()
		})
		e.table.cond.Wait()
		timer.Stop()
	}
}
