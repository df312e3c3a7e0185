// Package task defines the Task domain type shared by all runtime backends
// (spec.md §3 "Task", §4.2).
package task

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// State is the task lifecycle state machine (spec.md §3: Init -> Running ->
// Stopped, Stopped terminal).
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Kind names the runtime backend that owns a task.
type Kind string

const (
	KindWASM    Kind = "wasm"
	KindProcess Kind = "process"
	KindDocker  Kind = "docker"
)

// Config describes a task to be created, mirroring spec.md §3's Task
// attributes.
type Config struct {
	ID          int64
	Name        string
	Kind        Kind
	Executable  string // image name | binary path | wasm module URI
	WorkDir     string
	Args        []string
	Env         map[string]string
	HostAddress string
}

// VarStore is the opaque per-task key/value store (spec.md §3 "variable
// map"). Implementations live in internal/varstore.
type VarStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Close() error
}

// Task is a running workload instance and its owned children: the duplex
// pipe, request-ID counter, variable map, finish-callbacks (spec.md §3).
//
// A Task has exactly one owner, the registry (internal/runtime.Registry).
// FD table and stream-channel map are attached by cmd/spearlet via
// SetFDTable/SetStreamTable and held as `any`, so this package imports
// neither internal/fd nor internal/stream (internal/stream depends on
// task.Task).
type Task struct {
	Config Config

	In  io.WriteCloser // outbound-to-guest
	Out io.ReadCloser  // inbound-from-guest

	vars VarStore

	state   atomic.Int32
	reqID   atomic.Uint64
	exitErr atomic.Value // error

	mu          sync.Mutex
	onFinish    []func(exitErr error)
	finishOnce  sync.Once
	fdTable     any
	streamTable any

	stopOnce sync.Once
	stopFn   func() error
	startFn  func() error
}

// New constructs a Task in StateInit. in/out are the duplex pipe endpoints;
// stopFn performs the backend-specific teardown (kill a process, stop a
// container, halt a wasm instance).
func New(cfg Config, in io.WriteCloser, out io.ReadCloser, vars VarStore, stopFn func() error) *Task {
	t := &Task{
		Config: cfg,
		In:     in,
		Out:    out,
		vars:   vars,
		stopFn: stopFn,
	}
	t.state.Store(int32(StateInit))
	return t
}

// SetStartFunc installs the backend-specific action that actually spawns
// the guest (child process, container, wasm instance). Called once by the
// backend right after New, before the task is handed to the registry.
func (t *Task) SetStartFunc(fn func() error) {
	t.startFn = fn
}

// Start transitions Init->Running by invoking the backend-specific start
// function installed via SetStartFunc (spec.md §4.2 "Task.start()").
func (t *Task) Start() error {
	if t.startFn != nil {
		if err := t.startFn(); err != nil {
			return err
		}
	}
	t.MarkRunning()
	return nil
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// MarkRunning transitions Init->Running. It is a no-op (not an error) if
// already Running, but panics if called after Stopped — that would violate
// the one-way state machine invariant and indicates a backend bug.
func (t *Task) MarkRunning() {
	for {
		cur := State(t.state.Load())
		switch cur {
		case StateRunning:
			return
		case StateStopped:
			panic("task: MarkRunning called after Stopped")
		}
		if t.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
			return
		}
	}
}

// MarkStopped transitions to Stopped and fires finish-callbacks exactly
// once, in registration order. Safe to call multiple times (idempotent) and
// from multiple goroutines (natural exit racing with an explicit Stop).
func (t *Task) MarkStopped(exitErr error) {
	t.finishOnce.Do(func() {
		t.state.Store(int32(StateStopped))
		if exitErr != nil {
			t.exitErr.Store(exitErr)
		}
		t.mu.Lock()
		cbs := append([]func(error){}, t.onFinish...)
		t.mu.Unlock()
		for _, cb := range cbs {
			cb(exitErr)
		}
	})
}

// RegisterOnFinish subscribes fn to fire exactly once when the task reaches
// Stopped. If the task is already Stopped, fn is invoked synchronously with
// the recorded exit error.
func (t *Task) RegisterOnFinish(fn func(exitErr error)) {
	t.mu.Lock()
	if t.State() == StateStopped {
		t.mu.Unlock()
		fn(t.ExitError())
		return
	}
	t.onFinish = append(t.onFinish, fn)
	t.mu.Unlock()
}

// ExitError returns the error recorded at MarkStopped, if any.
func (t *Task) ExitError() error {
	if v := t.exitErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// NextRequestID returns a strictly monotonically increasing ID for
// host-initiated requests to this task's guest.
func (t *Task) NextRequestID() uint64 {
	return t.reqID.Add(1)
}

// SetVar / GetVar / DeleteVar proxy the task's variable store.
func (t *Task) SetVar(key, value string) {
	if t.vars != nil {
		t.vars.Set(key, value)
	}
}

func (t *Task) GetVar(key string) (string, bool) {
	if t.vars == nil {
		return "", false
	}
	return t.vars.Get(key)
}

func (t *Task) DeleteVar(key string) {
	if t.vars != nil {
		t.vars.Delete(key)
	}
}

// Stop performs a best-effort teardown of the backend resource exactly
// once; idempotent per spec.md §4.2.
func (t *Task) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.stopFn != nil {
			err = t.stopFn()
		}
	})
	return err
}

// Attachment is a small untyped slot for the FD table / stream map, set once
// after construction and read back with a type assertion. Using `any` here
// (rather than importing internal/fd or internal/stream) avoids an import
// cycle, since stream.NewMultiplexer takes a *Task.
func (t *Task) SetFDTable(v any)     { t.fdTable = v }
func (t *Task) FDTable() any         { return t.fdTable }
func (t *Task) SetStreamTable(v any) { t.streamTable = v }
func (t *Task) StreamTable() any     { return t.streamTable }

func (t *Task) String() string {
	return fmt.Sprintf("task(id=%d name=%q kind=%s state=%s)", t.Config.ID, t.Config.Name, t.Config.Kind, t.State())
}
