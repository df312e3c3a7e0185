package docker

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeWriteCloser struct {
	buf    bytes.Buffer
	closed bool
}

func (f *fakeWriteCloser) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *fakeWriteCloser) Close() error                { f.closed = true; return nil }

func TestDeferredWriterErrorsBeforeStart(t *testing.T) {
	var ptr atomic.Pointer[attachedConn]
	w := &deferredWriter{conn: &ptr}
	_, err := w.Write([]byte("x"))
	assert.Error(t, err)
}

func TestDeferredWriterDelegatesAfterStart(t *testing.T) {
	var ptr atomic.Pointer[attachedConn]
	fw := &fakeWriteCloser{}
	ptr.Store(&attachedConn{w: fw})

	w := &deferredWriter{conn: &ptr}
	n, err := w.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", fw.buf.String())

	assert.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestDeferredReaderErrorsBeforeStart(t *testing.T) {
	var ptr atomic.Pointer[attachedConn]
	r := &deferredReader{conn: &ptr}
	buf := make([]byte, 4)
	_, err := r.Read(buf)
	assert.Error(t, err)
}

func TestDeferredReaderDelegatesAfterStart(t *testing.T) {
	var ptr atomic.Pointer[attachedConn]
	ptr.Store(&attachedConn{r: io.NopCloser(bytes.NewBufferString("data"))})

	r := &deferredReader{conn: &ptr}
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
}
