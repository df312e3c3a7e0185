package transport_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripRequest(t *testing.T) {
	var buf bytes.Buffer
	enc := transport.NewEncoder(&buf)
	want := transport.NewRequest(42, transport.MethodToolInvoke, []byte(`{"tool":"search"}`))

	require.NoError(t, enc.Encode(want))

	dec := transport.NewDecoder(&buf)
	got, err := dec.Decode()
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestRoundTripResponseAndSignal(t *testing.T) {
	var buf bytes.Buffer
	enc := transport.NewEncoder(&buf)

	resp := transport.NewResponse(7, 0, "", []byte("ok"))
	sig := transport.NewSignal(transport.SignalStreamData, []byte("chunk"))

	require.NoError(t, enc.Encode(resp))
	require.NoError(t, enc.Encode(sig))

	dec := transport.NewDecoder(&buf)

	got1, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, resp, got1)

	got2, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, sig, got2)
}

func TestFireAndForgetRequest(t *testing.T) {
	f := transport.NewRequest(-1, transport.MethodNoOp, nil)
	assert.True(t, f.IsFireAndForget())

	f2 := transport.NewRequest(5, transport.MethodNoOp, nil)
	assert.False(t, f2.IsFireAndForget())
}

func TestDecodeOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // far larger than MaxFrameSize
	dec := transport.NewDecoder(&buf)

	_, err := dec.Decode()
	assert.ErrorIs(t, err, transport.ErrFrameTooLarge)
}

func TestDecodeShortLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01})
	dec := transport.NewDecoder(&buf)

	_, err := dec.Decode()
	assert.ErrorIs(t, err, transport.ErrShortLengthPrefix)
}

func TestDecodeEOFAtFrameBoundary(t *testing.T) {
	dec := transport.NewDecoder(&bytes.Buffer{})
	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	enc := transport.NewEncoder(&buf)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, enc.Encode(transport.NewRequest(i, transport.MethodTransform, nil)))
	}

	dec := transport.NewDecoder(&buf)
	for i := int64(0); i < 5; i++ {
		f, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, i, f.ID)
	}
}
