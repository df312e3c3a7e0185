package control

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/edgeworks-io/spearlet/internal/logger"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var log = logger.For("control")

// serviceName is the fixed gRPC service path SMS is expected to expose;
// there is no compiled .proto stub behind it (see codec.go), so the method
// names are plain string literals rather than generated constants.
const serviceName = "/spear.sms.v1.SMS"

// DefaultHeartbeatInterval matches spec.md §4.8's node liveness cadence.
const DefaultHeartbeatInterval = 10 * time.Second

// Client is the node-side SMS control client (spec.md §4.8): registers the
// node, heartbeats, polls for task descriptors, and reports task status.
// Every call is authenticated individually (spec.md §6.3(a)) by attaching a
// bearer token to the outgoing context rather than relying on a one-time
// handshake.
type Client struct {
	conn     *grpc.ClientConn
	authToken string
	nodeUUID  string
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken sets the bearer token attached to every call.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// NewClient dials target (SMS's gRPC address) and returns a Client bound to
// nodeUUID. The connection is lazy: grpc.NewClient does not block on the
// initial handshake, matching how the process/docker/wasm backends treat
// Create as a non-blocking step distinct from Start.
func NewClient(target, nodeUUID string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("control: dialing %q: %w", target, err)
	}
	c := &Client{conn: conn, nodeUUID: nodeUUID}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authed(ctx context.Context) context.Context {
	if c.authToken == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.authToken)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx = c.authed(ctx)
	if err := c.conn.Invoke(ctx, serviceName+method, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return fmt.Errorf("control: %s: %w", method, err)
	}
	return nil
}

// Register announces this node to SMS. Returns an error if SMS rejects the
// registration (e.g. duplicate UUID, unsupported capability).
func (c *Client) Register(ctx context.Context, node NodeRecord) error {
	req := &registerRequest{
		UUID:         node.UUID,
		Name:         node.Name,
		IP:           node.IP,
		Port:         node.Port,
		Capabilities: node.ResourceMetricsKeys(),
		RegisteredAt: timestamppb.New(time.Now()),
	}
	resp := &registerResponse{}
	if err := c.invoke(ctx, "/Register", req, resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("control: registration rejected: %s", resp.Reason)
	}
	return nil
}

// Heartbeat reports current resource metrics for one beat.
func (c *Client) Heartbeat(ctx context.Context, metrics map[string]float64) error {
	req := &heartbeatRequest{UUID: c.nodeUUID, ResourceMetrics: metrics, SentAt: timestamppb.New(time.Now())}
	resp := &heartbeatResponse{}
	if err := c.invoke(ctx, "/Heartbeat", req, resp); err != nil {
		return err
	}
	if !resp.Acknowledged {
		return fmt.Errorf("control: heartbeat not acknowledged")
	}
	return nil
}

// RunHeartbeatLoop sends one heartbeat per tick of a rate.Limiter paced at
// 1/interval, invoking metricsFn fresh on each beat, until ctx is done. A
// single failed beat is logged and retried on the next tick rather than
// aborting the loop, since a lost heartbeat is recoverable but a dead node
// process is not something this loop should hide by exiting quietly.
func (c *Client) RunHeartbeatLoop(ctx context.Context, interval time.Duration, metricsFn func() map[string]float64) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Wait refuses as soon as the next token would land past ctx's
			// deadline; block until ctx is actually done so its error is set.
			<-ctx.Done()
			return ctx.Err()
		}
		var metrics map[string]float64
		if metricsFn != nil {
			metrics = metricsFn()
		}
		if err := c.Heartbeat(ctx, metrics); err != nil {
			log.Warn("heartbeat failed", "node_uuid", c.nodeUUID, "error", err)
		}
	}
}

// PollTaskDescriptors fetches the set of task descriptors SMS currently
// wants this node running. Callers are responsible for fetching and
// verifying the named executable bytes (spec.md §6.3(b)) before starting
// any task from the returned descriptors.
func (c *Client) PollTaskDescriptors(ctx context.Context) ([]TaskDescriptor, error) {
	req := &pollRequest{UUID: c.nodeUUID}
	resp := &pollResponse{}
	if err := c.invoke(ctx, "/PollTasks", req, resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ReportStatus tells SMS the current lifecycle status of a task this node
// is running (e.g. "running", "stopped", "failed").
func (c *Client) ReportStatus(ctx context.Context, taskID int64, status, detail string) error {
	req := &statusRequest{NodeUUID: c.nodeUUID, TaskID: taskID, Status: status, Detail: detail}
	resp := &statusResponse{}
	if err := c.invoke(ctx, "/ReportStatus", req, resp); err != nil {
		return err
	}
	if !resp.Acknowledged {
		return fmt.Errorf("control: status report not acknowledged for task %d", taskID)
	}
	return nil
}

// ResourceMetricsKeys returns the sorted metric names a NodeRecord reports,
// used as the capability list advertised at registration.
func (n NodeRecord) ResourceMetricsKeys() []string {
	keys := make([]string, 0, len(n.ResourceMetrics))
	for k := range n.ResourceMetrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
