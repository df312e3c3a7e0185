package runtime_test

import (
	"errors"
	"io"
	"testing"

	"github.com/edgeworks-io/spearlet/internal/runtime"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestTask(id int64) *task.Task {
	return task.New(task.Config{ID: id, Name: "t"}, nopWriteCloser{io.Discard}, nopCloser{}, nil, func() error { return nil })
}

func TestRegisterAndGet(t *testing.T) {
	r := runtime.NewRegistry()
	tk := newTestTask(1)

	require.NoError(t, r.Register(tk))

	got, ok := r.Get(1)
	assert.True(t, ok)
	assert.Same(t, tk, got)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.Register(newTestTask(1)))
	err := r.Register(newTestTask(1))
	assert.Error(t, err)
}

func TestTeardownHooksRunOnFinishAndTaskIsRemoved(t *testing.T) {
	r := runtime.NewRegistry()
	var hookCalls []int64
	r.OnTaskFinish(func(tk *task.Task) {
		hookCalls = append(hookCalls, tk.Config.ID)
	})

	tk := newTestTask(5)
	require.NoError(t, r.Register(tk))

	tk.MarkStopped(nil)

	assert.Equal(t, []int64{5}, hookCalls)
	_, ok := r.Get(5)
	assert.False(t, ok)
}

func TestShutdownStopsAllTasksAndContinuesOnError(t *testing.T) {
	r := runtime.NewRegistry()

	failing := task.New(task.Config{ID: 1}, nopWriteCloser{io.Discard}, nopCloser{}, nil, func() error {
		return errors.New("boom")
	})
	var stopped bool
	ok := task.New(task.Config{ID: 2}, nopWriteCloser{io.Discard}, nopCloser{}, nil, func() error {
		stopped = true
		return nil
	})

	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(ok))

	r.Shutdown()

	assert.True(t, stopped)
}

func TestListReturnsSnapshot(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.Register(newTestTask(1)))
	require.NoError(t, r.Register(newTestTask(2)))

	all := r.List()
	assert.Len(t, all, 2)
}
