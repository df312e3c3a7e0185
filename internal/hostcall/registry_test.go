package hostcall_test

import (
	"context"
	"testing"
	"time"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/hostcall"
	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
	return args, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := hostcall.NewRegistry()
	require.NoError(t, r.Register(transport.MethodNoOp, echoHandler))
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := hostcall.NewRegistry()
	require.NoError(t, r.Register(transport.MethodNoOp, echoHandler))
	err := r.Register(transport.MethodNoOp, echoHandler)
	assert.Error(t, err)
}

func TestRegisterWithSchemaRejectsInvalidArgs(t *testing.T) {
	r := hostcall.NewRegistry()
	schema := `{"type":"object","required":["tool"],"properties":{"tool":{"type":"string"}}}`
	err := r.RegisterWithSchema(transport.MethodToolInvoke, schema, echoHandler)
	require.NoError(t, err)

	pp := newPipePair()
	tk := newTestTask(6, pp)
	m := comm.NewManager(16, time.Second)
	m.InstallToTask(tk)

	d := hostcall.NewDispatcher(r, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Arguments missing the required "tool" property never reach the handler.
	enc := transport.NewEncoder(pp.guestOut)
	require.NoError(t, enc.Encode(transport.NewRequest(40, transport.MethodToolInvoke, []byte(`{}`))))

	dec := transport.NewDecoder(pp.guestIn)
	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(40), f.ID)
	assert.Equal(t, int32(-1), f.Code)
	assert.Contains(t, f.Message, "invalid arguments")
}
