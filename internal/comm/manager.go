// Package comm implements the per-task communication manager (spec.md
// §4.4): inbound demultiplexing, the pending-request correlation table, the
// signal-handler map, and a single serialized outbound writer per task.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/edgeworks-io/spearlet/internal/transport"
)

var log = logger.For("comm")

// DefaultResponseTimeout is applied by SendRequest when the caller does not
// override it (spec.md §4.4: "waits up to a configurable timeout (default 5
// minutes)").
const DefaultResponseTimeout = 5 * time.Minute

// ErrTaskTerminated is delivered to every pending callback when its task is
// torn down before a response arrives.
var ErrTaskTerminated = errors.New("comm: task terminated")

// ErrRequestTimeout is returned by SendRequest when no response arrives
// within the deadline.
var ErrRequestTimeout = errors.New("comm: request timed out")

// SignalHandler handles an inbound Signal frame for a task.
type SignalHandler func(t *task.Task, payload []byte)

// InvocationInfo is handed to a hostcall handler: a reference to the task
// and manager that received the request, and an optional channel for
// streaming partial responses (reserved for future hostcalls; nil for
// ordinary request/response).
type InvocationInfo struct {
	Task         *task.Task
	Manager      *Manager
	RespChan     chan<- []byte
}

// InboundRequest is enqueued onto the manager's inbox for every guest
// Request frame; the hostcall dispatcher is the sole consumer.
type InboundRequest struct {
	ID      int64
	Method  transport.Method
	Payload []byte
	Info    InvocationInfo
}

type pendingEntry struct {
	id        int64
	callback  func(transport.Frame, error)
	autoClear bool
	createdAt time.Time
}

type taskState struct {
	mu             sync.RWMutex
	pending        map[int64]*pendingEntry
	signalHandlers map[transport.SignalMethod]SignalHandler
	outbound       chan transport.Frame
	stopped        bool
}

// Manager is the process-wide communication manager; it is installed onto
// each task individually via InstallToTask.
type Manager struct {
	mu             sync.RWMutex
	states         map[int64]*taskState
	inbox          chan InboundRequest
	defaultTimeout time.Duration
	outboundCap    int

	// onStreamData, if set, routes stream-data signals into the stream
	// multiplexer. Set via SetStreamRouter to avoid an import cycle between
	// internal/comm and internal/stream (both of which internal/hostcall
	// depends on).
	onStreamData func(t *task.Task, payload []byte)
}

// NewManager constructs a Manager. outboundQueueCapacity bounds each task's
// outbound frame channel (spec.md §6.4 transport.outbound_queue_capacity).
func NewManager(outboundQueueCapacity int, defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultResponseTimeout
	}
	if outboundQueueCapacity <= 0 {
		outboundQueueCapacity = 1024
	}
	return &Manager{
		states:         make(map[int64]*taskState),
		inbox:          make(chan InboundRequest, 256),
		defaultTimeout: defaultTimeout,
		outboundCap:    outboundQueueCapacity,
	}
}

// Inbox is the channel the hostcall dispatcher drains.
func (m *Manager) Inbox() <-chan InboundRequest {
	return m.inbox
}

// SetStreamRouter installs the hook used to forward stream-data signals.
func (m *Manager) SetStreamRouter(fn func(t *task.Task, payload []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStreamData = fn
}

func (m *Manager) state(taskID int64) (*taskState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[taskID]
	return st, ok
}

// InstallToTask wires the manager to a newly created task: starts the
// inbound demux goroutine and the serialized outbound writer goroutine, and
// registers a finish hook that flushes pending callbacks with
// ErrTaskTerminated, drops the signal map, and closes the outbound writer
// (spec.md §4.4 "Lifetime").
func (m *Manager) InstallToTask(t *task.Task) {
	st := &taskState{
		pending:        make(map[int64]*pendingEntry),
		signalHandlers: make(map[transport.SignalMethod]SignalHandler),
		outbound:       make(chan transport.Frame, m.outboundCap),
	}
	m.mu.Lock()
	m.states[t.Config.ID] = st
	m.mu.Unlock()

	go m.outboundWriter(t, st)
	go m.demux(t, st)

	t.RegisterOnFinish(func(error) {
		st.mu.Lock()
		st.stopped = true
		pending := make([]*pendingEntry, 0, len(st.pending))
		for _, p := range st.pending {
			pending = append(pending, p)
		}
		st.pending = nil
		st.signalHandlers = nil
		close(st.outbound)
		st.mu.Unlock()

		for _, p := range pending {
			p.callback(transport.Frame{}, ErrTaskTerminated)
		}

		m.mu.Lock()
		delete(m.states, t.Config.ID)
		m.mu.Unlock()
	})
}

// RegisterSignalHandler installs (or replaces) the handler for a signal
// method on a task.
func (m *Manager) RegisterSignalHandler(t *task.Task, method transport.SignalMethod, h SignalHandler) {
	st, ok := m.state(t.Config.ID)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.signalHandlers != nil {
		st.signalHandlers[method] = h
	}
}

func (m *Manager) demux(t *task.Task, st *taskState) {
	dec := transport.NewDecoder(t.Out)
	for {
		f, err := dec.Decode()
		if err != nil {
			if err == transport.ErrUnknownDiscriminator {
				log.Warn("dropping malformed frame", "task_id", t.Config.ID, "error", err)
				continue
			}
			log.Info("demux loop ending", "task_id", t.Config.ID, "error", err)
			t.MarkStopped(err)
			return
		}
		m.dispatchInbound(t, st, f)
	}
}

func (m *Manager) dispatchInbound(t *task.Task, st *taskState, f transport.Frame) {
	switch f.Kind {
	case transport.KindRequest:
		info := InvocationInfo{Task: t, Manager: m}
		m.inbox <- InboundRequest{ID: f.ID, Method: f.Method, Payload: f.Payload, Info: info}

	case transport.KindResponse:
		st.mu.Lock()
		entry, ok := st.pending[f.ID]
		if ok && entry.autoClear {
			delete(st.pending, f.ID)
		}
		st.mu.Unlock()
		if !ok {
			log.Warn("response for unknown or already-cleared id", "task_id", t.Config.ID, "id", f.ID)
			return
		}
		entry.callback(f, nil)

	case transport.KindSignal:
		st.mu.RLock()
		handler, ok := st.signalHandlers[f.SignalMethod]
		router := m.onStreamData
		st.mu.RUnlock()
		if f.SignalMethod == transport.SignalStreamData && router != nil {
			router(t, f.Payload)
			return
		}
		if ok {
			handler(t, f.Payload)
		}
	}
}

func (m *Manager) outboundWriter(t *task.Task, st *taskState) {
	enc := transport.NewEncoder(t.In)
	for f := range st.outbound {
		if err := enc.Encode(f); err != nil {
			log.Error("outbound write failed", "task_id", t.Config.ID, "error", err)
		}
	}
}

func (m *Manager) enqueue(t *task.Task, f transport.Frame) {
	st, ok := m.state(t.Config.ID)
	if !ok {
		return
	}
	st.mu.RLock()
	stopped := st.stopped
	st.mu.RUnlock()
	if stopped {
		return
	}
	defer func() { _ = recover() }() // guard a close/send race on teardown
	st.outbound <- f
}

// SendResponse replies to a guest-initiated request with a successful payload.
func (m *Manager) SendResponse(t *task.Task, id int64, payload []byte) {
	m.enqueue(t, transport.NewResponse(id, 0, "", payload))
}

// SendResponseError replies to a guest-initiated request with an error code
// and message.
func (m *Manager) SendResponseError(t *task.Task, id int64, code int32, message string) {
	m.enqueue(t, transport.NewResponse(id, code, message, nil))
}

// SendResponseErrorPayload is SendResponseError plus a payload, used by
// hostcalls whose error carries structured data alongside the errno (e.g. the
// needed buffer size on ENOSPC, spec.md §4.6/§7).
func (m *Manager) SendResponseErrorPayload(t *task.Task, id int64, code int32, message string, payload []byte) {
	m.enqueue(t, transport.NewResponse(id, code, message, payload))
}

// SendSignal sends an asynchronous, unsolicited notification to the guest.
func (m *Manager) SendSignal(t *task.Task, method transport.SignalMethod, payload []byte) {
	m.enqueue(t, transport.NewSignal(method, payload))
}

// SendRequestCallback issues a host-initiated request and invokes cb when
// a matching Response arrives (or the task terminates first). cb runs on
// the demux goroutine; it must not block.
func (m *Manager) SendRequestCallback(t *task.Task, method transport.Method, payload []byte, cb func(transport.Frame, error)) {
	m.sendRequestTracked(t, method, payload, cb)
}

// sendRequestTracked is SendRequestCallback plus the assigned request id, so
// SendRequest can clear its own pending entry precisely on timeout/cancel.
func (m *Manager) sendRequestTracked(t *task.Task, method transport.Method, payload []byte, cb func(transport.Frame, error)) int64 {
	id := int64(t.NextRequestID())
	st, ok := m.state(t.Config.ID)
	if !ok {
		cb(transport.Frame{}, ErrTaskTerminated)
		return id
	}
	st.mu.Lock()
	if st.pending == nil {
		st.mu.Unlock()
		cb(transport.Frame{}, ErrTaskTerminated)
		return id
	}
	st.pending[id] = &pendingEntry{id: id, callback: cb, autoClear: true, createdAt: time.Now()}
	st.mu.Unlock()

	m.enqueue(t, transport.NewRequest(id, method, payload))
	return id
}

// clearPending removes a pending entry by id if it is still outstanding, so
// a subsequent late Response is logged as "unknown id" and dropped rather
// than double-delivered to an already-resolved caller.
func (m *Manager) clearPending(t *task.Task, id int64) {
	st, ok := m.state(t.Config.ID)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.pending != nil {
		delete(st.pending, id)
	}
	st.mu.Unlock()
}

// SendRequest is sugar over SendRequestCallback: it blocks until a response
// arrives, ctx is cancelled, or the default timeout elapses, whichever
// first. A zero response code yields payload bytes; non-zero yields an
// error embedding (code, message).
func (m *Manager) SendRequest(ctx context.Context, t *task.Task, method transport.Method, payload []byte) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	resultCh := make(chan result, 1)

	id := m.sendRequestTracked(t, method, payload, func(f transport.Frame, err error) {
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		if f.Code != 0 {
			resultCh <- result{err: fmt.Errorf("comm: request failed (code %d): %s", f.Code, f.Message)}
			return
		}
		resultCh <- result{payload: f.Payload}
	})

	timer := time.NewTimer(m.defaultTimeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r.payload, r.err
	case <-ctx.Done():
		m.clearPending(t, id)
		return nil, ctx.Err()
	case <-timer.C:
		m.clearPending(t, id)
		return nil, ErrRequestTimeout
	}
}
