package wasm_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/edgeworks-io/spearlet/internal/runtime/backend/wasm"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuest struct {
	in       bytes.Buffer
	out      bytes.Buffer
	closed   bool
	runCh    chan struct{}
	runErr   error
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{runCh: make(chan struct{})}
}

func (g *fakeGuest) Instantiate(ctx context.Context) error { return nil }
func (g *fakeGuest) GuestWriter() io.Writer                { return &g.in }
func (g *fakeGuest) GuestReader() io.Reader                { return &g.out }
func (g *fakeGuest) Run(ctx context.Context) error {
	<-g.runCh
	return g.runErr
}
func (g *fakeGuest) Close(ctx context.Context) error {
	g.closed = true
	return nil
}

func TestCreateDoesNotInstantiateOrRun(t *testing.T) {
	guest := newFakeGuest()
	b := wasm.NewBackend(func([]byte) (wasm.GuestModule, error) { return guest, nil })

	tk, err := b.Create([]byte("wasm bytes"), task.Config{ID: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StateInit, tk.State())
}

func TestStartRunsGuestAndStopTeardownCallsClose(t *testing.T) {
	guest := newFakeGuest()
	b := wasm.NewBackend(func([]byte) (wasm.GuestModule, error) { return guest, nil })

	tk, err := b.Create([]byte("wasm bytes"), task.Config{ID: 2}, nil)
	require.NoError(t, err)

	require.NoError(t, tk.Start())
	assert.Equal(t, task.StateRunning, tk.State())

	require.NoError(t, tk.Stop())
	assert.True(t, guest.closed)

	close(guest.runCh)

	assert.Eventually(t, func() bool {
		return tk.State() == task.StateStopped
	}, time.Second, 10*time.Millisecond)
}

func TestDuplexPipeWiresToGuestBuffers(t *testing.T) {
	guest := newFakeGuest()
	defer close(guest.runCh)
	b := wasm.NewBackend(func([]byte) (wasm.GuestModule, error) { return guest, nil })

	tk, err := b.Create([]byte("wasm bytes"), task.Config{ID: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	_, err = tk.In.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", guest.in.String())
}
