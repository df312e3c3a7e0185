package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeSMS answers every method this package calls via an UnknownServiceHandler
// so the test exercises the real json codec path without a compiled .proto
// service definition on either side.
type fakeSMS struct {
	registerCalls   []registerRequest
	heartbeatCalls  []heartbeatRequest
	statusCalls     []statusRequest
	tasksToReturn   []TaskDescriptor
	rejectRegister  bool
	ackHeartbeat    bool
}

func (f *fakeSMS) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	switch method {
	case serviceName + "/Register":
		var req registerRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.registerCalls = append(f.registerCalls, req)
		if f.rejectRegister {
			return stream.SendMsg(&registerResponse{Accepted: false, Reason: "duplicate uuid"})
		}
		return stream.SendMsg(&registerResponse{Accepted: true})
	case serviceName + "/Heartbeat":
		var req heartbeatRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.heartbeatCalls = append(f.heartbeatCalls, req)
		return stream.SendMsg(&heartbeatResponse{Acknowledged: true})
	case serviceName + "/PollTasks":
		var req pollRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&pollResponse{Tasks: f.tasksToReturn})
	case serviceName + "/ReportStatus":
		var req statusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.statusCalls = append(f.statusCalls, req)
		return stream.SendMsg(&statusResponse{Acknowledged: true})
	default:
		return nil
	}
}

func startFakeSMS(t *testing.T, sms *fakeSMS) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(sms.handle))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	c := &Client{conn: conn, nodeUUID: "node-1", authToken: "test-token"}
	return c, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestRegisterSendsFieldsAndAcceptsResponse(t *testing.T) {
	sms := &fakeSMS{}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	err := c.Register(context.Background(), NodeRecord{
		UUID: "node-1", Name: "node-one", IP: "10.0.0.1", Port: 7000,
		ResourceMetrics: map[string]float64{"cpu": 0.5},
	})
	require.NoError(t, err)
	require.Len(t, sms.registerCalls, 1)
	assert.Equal(t, "node-1", sms.registerCalls[0].UUID)
	assert.Equal(t, "10.0.0.1", sms.registerCalls[0].IP)
}

func TestRegisterRejectedSurfacesError(t *testing.T) {
	sms := &fakeSMS{rejectRegister: true}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	err := c.Register(context.Background(), NodeRecord{UUID: "node-1"})
	assert.ErrorContains(t, err, "duplicate uuid")
}

func TestHeartbeatSendsMetrics(t *testing.T) {
	sms := &fakeSMS{}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	err := c.Heartbeat(context.Background(), map[string]float64{"mem": 0.25})
	require.NoError(t, err)
	require.Len(t, sms.heartbeatCalls, 1)
	assert.Equal(t, 0.25, sms.heartbeatCalls[0].ResourceMetrics["mem"])
}

func TestPollTaskDescriptorsReturnsTasks(t *testing.T) {
	sms := &fakeSMS{tasksToReturn: []TaskDescriptor{
		{TaskID: 42, ExecutableType: "wasm", ExecutableURI: "s3://bucket/key", Checksum: "deadbeef"},
	}}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	tasks, err := c.PollTaskDescriptors(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(42), tasks[0].TaskID)
	assert.Equal(t, "deadbeef", tasks[0].Checksum)
}

func TestReportStatusAcknowledged(t *testing.T) {
	sms := &fakeSMS{}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	err := c.ReportStatus(context.Background(), 7, "running", "")
	require.NoError(t, err)
	require.Len(t, sms.statusCalls, 1)
	assert.Equal(t, "running", sms.statusCalls[0].Status)
}

func TestRunHeartbeatLoopSendsUntilCancelled(t *testing.T) {
	sms := &fakeSMS{}
	c, stop := startFakeSMS(t, sms)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := c.RunHeartbeatLoop(ctx, 20*time.Millisecond, func() map[string]float64 {
		return map[string]float64{"cpu": 0.1}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, sms.heartbeatCalls)
}
