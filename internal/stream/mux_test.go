package stream_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/edgeworks-io/spearlet/internal/stream"
	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeTask(id int64) (*task.Task, io.ReadCloser) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	tk := task.New(task.Config{ID: id}, w1, r2, nil, func() error { return w1.Close() })
	_ = w2
	return tk, r1
}

func TestNewAllocatesPositiveIDAndClose(t *testing.T) {
	tk, guestIn := newPipeTask(1)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	classes := stream.NewClassRegistry()
	received := make(chan string, 1)
	require.NoError(t, classes.Register(&stream.Class{
		Name: "io",
		Functions: map[string]stream.Functions{
			stream.DefaultFunction: {
				Raw: func(_ context.Context, _ *stream.Channel, data []byte, _ bool) error {
					received <- string(data)
					return nil
				},
			},
		},
	}))

	mux := stream.NewMultiplexer(tk, m, classes)
	id, err := mux.New(context.Background(), "io")
	require.NoError(t, err)
	assert.Greater(t, id, int32(0))

	_, ok := mux.Get(id)
	assert.True(t, ok)

	require.NoError(t, mux.Close(id))
	_, ok = mux.Get(id)
	assert.False(t, ok)

	_ = guestIn
}

func TestNewUnknownClassRejected(t *testing.T) {
	tk, _ := newPipeTask(2)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	mux := stream.NewMultiplexer(tk, m, stream.NewClassRegistry())
	_, err := mux.New(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestSendDeliversToGuestAsStreamDataSignal(t *testing.T) {
	tk, guestIn := newPipeTask(3)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	classes := stream.NewClassRegistry()
	require.NoError(t, classes.Register(&stream.Class{Name: "asr", Functions: map[string]stream.Functions{}}))

	mux := stream.NewMultiplexer(tk, m, classes)
	id, err := mux.New(context.Background(), "asr")
	require.NoError(t, err)

	ch, ok := mux.Get(id)
	require.True(t, ok)

	ok = ch.Send(stream.EventRaw, "", stream.OpNoOp, stream.NotifyError, []byte("hello"), false)
	assert.True(t, ok)
	ch.Flush()

	dec := transport.NewDecoder(guestIn)
	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, transport.KindSignal, f.Kind)
	assert.Equal(t, transport.SignalStreamData, f.SignalMethod)
}

func TestHandleInboundRoutesToFunction(t *testing.T) {
	tk, _ := newPipeTask(4)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	classes := stream.NewClassRegistry()
	received := make(chan stream.OpType, 1)
	require.NoError(t, classes.Register(&stream.Class{
		Name: "chat",
		Functions: map[string]stream.Functions{
			"turn": {
				Operation: func(_ context.Context, _ *stream.Channel, opType stream.OpType, _ []byte, _ bool) error {
					received <- opType
					return nil
				},
			},
		},
	}))

	mux := stream.NewMultiplexer(tk, m, classes)
	id, err := mux.New(context.Background(), "chat")
	require.NoError(t, err)

	mux.HandleInbound(mustEncode(t, stream.Data{
		StreamID: id,
		Kind:     stream.EventOperation,
		Name:     "turn",
		OpType:   stream.OpCreate,
	}))

	select {
	case got := <-received:
		assert.Equal(t, stream.OpCreate, got)
	case <-time.After(time.Second):
		t.Fatal("operation handler was not invoked")
	}
}

func TestSendAssignsIncreasingSequenceIDsAndRejectsAfterFinal(t *testing.T) {
	tk, guestIn := newPipeTask(5)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	classes := stream.NewClassRegistry()
	require.NoError(t, classes.Register(&stream.Class{Name: "io", Functions: map[string]stream.Functions{}}))

	mux := stream.NewMultiplexer(tk, m, classes)
	id, err := mux.New(context.Background(), "io")
	require.NoError(t, err)
	ch, ok := mux.Get(id)
	require.True(t, ok)

	assert.True(t, ch.Send(stream.EventRaw, "", stream.OpNoOp, stream.NotifyError, []byte("R1"), false))
	assert.True(t, ch.Send(stream.EventRaw, "", stream.OpNoOp, stream.NotifyError, []byte("R2"), false))
	assert.True(t, ch.Send(stream.EventRaw, "", stream.OpNoOp, stream.NotifyError, []byte("R3"), true))
	ch.Flush()

	dec := transport.NewDecoder(guestIn)
	var seqs []int64
	var finals []bool
	for i := 0; i < 3; i++ {
		f, err := dec.Decode()
		require.NoError(t, err)
		var d stream.Data
		require.NoError(t, cbor.Unmarshal(f.Payload, &d))
		seqs = append(seqs, d.SequenceID)
		finals = append(finals, d.Final)
	}
	assert.Equal(t, []int64{0, 1, 2}, seqs)
	assert.Equal(t, []bool{false, false, true}, finals)

	assert.False(t, ch.Send(stream.EventRaw, "", stream.OpNoOp, stream.NotifyError, []byte("R4"), false))
}

func mustEncode(t *testing.T, d stream.Data) []byte {
	t.Helper()
	body, err := cbor.Marshal(&d)
	require.NoError(t, err)
	return body
}
