package stream

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// QueueCapacity is the recommended bound for each direction's queue
// (spec.md §4.7: "recommend capacity 128").
const QueueCapacity = 128

// sendFunc delivers one outbound Data event to the guest, wrapped as a
// stream-data Signal by the caller (internal/stream.Multiplexer). Kept as a
// function value, rather than a *comm.Manager field, so Channel has no
// direct dependency on task identity beyond what Multiplexer supplies.
type sendFunc func(Data) error

// Channel is a single bidirectional stream bound to a registered class
// (spec.md §3 "Stream channel").
type Channel struct {
	ID    int32
	Class *Class

	guestToHost chan Data
	hostToGuest chan Data

	seq         atomic.Int64
	finalGuest  atomic.Bool
	finalHost   atomic.Bool

	send sendFunc

	stopCh  chan struct{}
	stopped atomic.Bool
	workers sync.WaitGroup
	flush   sync.WaitGroup
}

func newChannel(id int32, class *Class, send sendFunc) *Channel {
	return &Channel{
		ID:          id,
		Class:       class,
		guestToHost: make(chan Data, QueueCapacity),
		hostToGuest: make(chan Data, QueueCapacity),
		send:        send,
		stopCh:      make(chan struct{}),
	}
}

func (c *Channel) start(ctx context.Context) {
	c.workers.Add(2)
	go c.requestWorker(ctx)
	go c.responseWorker()
}

// Send enqueues a host->guest event. A send after Final has been set on
// this direction is a programming error: it is logged by the caller and
// dropped here, per spec.md §4.7 ("must not corrupt state").
func (c *Channel) Send(kind EventKind, name string, opType OpType, notifType NotificationType, payload []byte, final bool) bool {
	if c.finalHost.Load() || c.stopped.Load() {
		return false
	}
	if final {
		c.finalHost.Store(true)
	}
	d := Data{
		StreamID:         c.ID,
		SequenceID:       c.seq.Add(1) - 1,
		Kind:             kind,
		Name:             name,
		OpType:           opType,
		NotificationType: notifType,
		Payload:          payload,
		Final:            final,
	}
	c.flush.Add(1)
	select {
	case c.hostToGuest <- d:
		return true
	case <-c.stopCh:
		c.flush.Done()
		return false
	}
}

// Flush blocks until every event enqueued by Send so far has been handed
// to the send function.
func (c *Channel) Flush() {
	c.flush.Wait()
}

func (c *Channel) deliverInbound(d Data) bool {
	if c.stopped.Load() {
		return false
	}
	select {
	case c.guestToHost <- d:
		return true
	default:
		return false
	}
}

func (c *Channel) requestWorker(ctx context.Context) {
	defer c.workers.Done()
	for {
		select {
		case d, ok := <-c.guestToHost:
			if !ok {
				return
			}
			c.dispatchInbound(ctx, d)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Channel) dispatchInbound(ctx context.Context, d Data) {
	if c.finalGuest.Load() {
		log.Warn("dropping event after final on guest->host direction", "stream_id", c.ID)
		return
	}
	if d.Final {
		c.finalGuest.Store(true)
	}

	funcs, ok := c.Class.Functions[d.functionName()]
	if !ok {
		log.Warn("unknown function in stream class", "class", c.Class.Name, "function", d.functionName())
		return
	}

	var err error
	switch d.Kind {
	case EventOperation:
		if funcs.Operation != nil {
			err = funcs.Operation(ctx, c, d.OpType, d.Payload, d.Final)
		}
	case EventNotification:
		if funcs.Notification != nil {
			err = funcs.Notification(ctx, c, d.NotificationType, d.Payload, d.Final)
		}
	case EventRaw:
		if funcs.Raw != nil {
			err = funcs.Raw(ctx, c, d.Payload, d.Final)
		}
	}
	if err != nil {
		log.Warn("stream function handler failed", "class", c.Class.Name, "function", d.functionName(), "error", err)
	}
}

func (c *Channel) responseWorker() {
	defer c.workers.Done()
	for {
		select {
		case d, ok := <-c.hostToGuest:
			if !ok {
				return
			}
			if err := c.send(d); err != nil {
				log.Warn("failed to deliver stream event to guest", "stream_id", c.ID, "error", err)
			}
			c.flush.Done()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Channel) stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.workers.Wait()
}
