package task_test

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func newTask(t *testing.T) *task.Task {
	return task.New(task.Config{ID: 1, Name: "t"}, nopWriteCloser{io.Discard}, nopReadCloser{}, nil, func() error { return nil })
}

func TestInitialStateIsInit(t *testing.T) {
	tk := newTask(t)
	assert.Equal(t, task.StateInit, tk.State())
}

func TestStartTransitionsToRunning(t *testing.T) {
	tk := newTask(t)
	var started atomic.Bool
	tk.SetStartFunc(func() error {
		started.Store(true)
		return nil
	})
	require.NoError(t, tk.Start())
	assert.True(t, started.Load())
	assert.Equal(t, task.StateRunning, tk.State())
}

func TestStartFailurePropagatesAndDoesNotTransition(t *testing.T) {
	tk := newTask(t)
	tk.SetStartFunc(func() error { return errors.New("spawn failed") })
	err := tk.Start()
	assert.Error(t, err)
	assert.Equal(t, task.StateInit, tk.State())
}

func TestMarkStoppedFiresFinishCallbacksOnce(t *testing.T) {
	tk := newTask(t)
	var calls int
	tk.RegisterOnFinish(func(error) { calls++ })

	tk.MarkStopped(nil)
	tk.MarkStopped(nil) // idempotent

	assert.Equal(t, 1, calls)
	assert.Equal(t, task.StateStopped, tk.State())
}

func TestRegisterOnFinishAfterStoppedInvokesImmediately(t *testing.T) {
	tk := newTask(t)
	tk.MarkStopped(errors.New("boom"))

	var got error
	tk.RegisterOnFinish(func(err error) { got = err })

	assert.EqualError(t, got, "boom")
}

func TestNextRequestIDStrictlyIncreases(t *testing.T) {
	tk := newTask(t)
	a := tk.NextRequestID()
	b := tk.NextRequestID()
	assert.Less(t, a, b)
}

func TestStopIsIdempotent(t *testing.T) {
	var calls int
	tk := task.New(task.Config{ID: 2}, nopWriteCloser{io.Discard}, nopReadCloser{}, nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, tk.Stop())
	require.NoError(t, tk.Stop())
	assert.Equal(t, 1, calls)
}

func TestVarStoreProxiesToUnderlyingStore(t *testing.T) {
	vars := newFakeVarStore()
	tk := task.New(task.Config{ID: 3}, nopWriteCloser{io.Discard}, nopReadCloser{}, vars, func() error { return nil })

	tk.SetVar("k", "v")
	v, ok := tk.GetVar("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	tk.DeleteVar("k")
	_, ok = tk.GetVar("k")
	assert.False(t, ok)
}

type fakeVarStore struct{ m map[string]string }

func newFakeVarStore() *fakeVarStore { return &fakeVarStore{m: map[string]string{}} }
func (f *fakeVarStore) Get(k string) (string, bool) { v, ok := f.m[k]; return v, ok }
func (f *fakeVarStore) Set(k, v string)              { f.m[k] = v }
func (f *fakeVarStore) Delete(k string)              { delete(f.m, k) }
func (f *fakeVarStore) Close() error                 { return nil }
