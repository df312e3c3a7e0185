// Package wasm implements the in-process WASM guest task runtime backend
// (spec.md §4.2): instantiates a linear-memory guest, imports hostcall
// stubs under a fixed module name, and exposes a pair of ring buffers as
// the duplex pipe, with a single-threaded cooperative schedule per guest
// instance.
//
// No WASM runtime library appears anywhere in the retrieved example corpus
// (checked transitively through every module in the pack), so this backend
// is written against a hand-rolled GuestModule seam rather than a concrete
// runtime import — the same shape a production version would use to wrap
// wazero/wasmtime-go/wasmer-go without this package's callers needing to
// change. Everything above that seam (duplex pipe wiring, start/stop
// lifecycle, finish signaling) follows the same patterns as the process and
// docker backends.
package wasm

import (
	"context"
	"fmt"
	"io"

	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
)

var log = logger.For("runtime.backend.wasm")

// GuestModule is the seam a concrete WASM runtime implements: module
// instantiation, linear-memory-backed ring buffers exposed as a duplex
// pipe, and a cooperative run loop.
type GuestModule interface {
	// Instantiate links host-provided hostcall stubs under the guest's
	// fixed import module name and prepares the instance for execution.
	Instantiate(ctx context.Context) error

	// GuestWriter is the host->guest ring buffer: bytes written here become
	// readable by the guest's imported recv stub.
	GuestWriter() io.Writer
	// GuestReader is the guest->host ring buffer.
	GuestReader() io.Reader

	// Run executes the guest's entry point on the calling goroutine,
	// enforcing the single-threaded cooperative schedule, and returns when
	// the guest exits or ctx is cancelled.
	Run(ctx context.Context) error

	Close(ctx context.Context) error
}

// ModuleFactory instantiates a GuestModule from wasm module bytes. Supplied
// by whatever concrete runtime the deployment links in.
type ModuleFactory func(moduleBytes []byte) (GuestModule, error)

// Backend creates WASM-backed tasks.
type Backend struct {
	factory ModuleFactory
}

// NewBackend constructs a WASM backend using factory to instantiate guest
// modules.
func NewBackend(factory ModuleFactory) *Backend {
	return &Backend{factory: factory}
}

// Create hands moduleBytes (wasm module bytes the caller has already
// fetched) to the backend's ModuleFactory and returns a task in Init; the
// guest is not instantiated or run until Start (spec.md §4.2).
func (b *Backend) Create(moduleBytes []byte, cfg task.Config, vars task.VarStore) (*task.Task, error) {
	module, err := b.factory(moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiating module factory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var t *task.Task
	t = task.New(cfg, writeCloser{module.GuestWriter()}, readCloser{module.GuestReader()}, vars, func() error {
		cancel()
		return module.Close(context.Background())
	})

	t.SetStartFunc(func() error {
		if err := module.Instantiate(ctx); err != nil {
			cancel()
			return fmt.Errorf("wasm: instantiate: %w", err)
		}
		go func() {
			runErr := module.Run(ctx)
			if runErr != nil {
				log.Info("guest run loop exited", "task_id", cfg.ID, "error", runErr)
			}
			t.MarkStopped(runErr)
		}()
		return nil
	})

	return t, nil
}

// writeCloser/readCloser adapt a GuestModule's bare ring-buffer io.Writer /
// io.Reader to the io.WriteCloser / io.ReadCloser task.New requires; actual
// teardown happens through the backend's stop function (module.Close), not
// through closing these ring buffers directly.
type writeCloser struct{ io.Writer }

func (writeCloser) Close() error { return nil }

type readCloser struct{ io.Reader }

func (readCloser) Close() error { return nil }
