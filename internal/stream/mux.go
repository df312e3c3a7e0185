package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/fxamacker/cbor/v2"
)

var log = logger.For("stream")

// Multiplexer owns one task's stream-ID -> Channel map (spec.md §3 "Stream
// channel", §4.7).
type Multiplexer struct {
	mu       sync.Mutex
	task     *task.Task
	manager  *comm.Manager
	classes  *ClassRegistry
	channels map[int32]*Channel
	nextID   int32
}

// NewMultiplexer creates an empty multiplexer for t, wired to send outbound
// stream-data through manager as a Signal.
func NewMultiplexer(t *task.Task, manager *comm.Manager, classes *ClassRegistry) *Multiplexer {
	return &Multiplexer{
		task:     t,
		manager:  manager,
		classes:  classes,
		channels: make(map[int32]*Channel),
		nextID:   1,
	}
}

// New implements `stream.ctl new`: allocates an unused positive stream-ID,
// binds a channel to className, and starts its two workers.
func (m *Multiplexer) New(ctx context.Context, className string) (int32, error) {
	class, ok := m.classes.Lookup(className)
	if !ok {
		return 0, fmt.Errorf("stream: unknown class %q", className)
	}

	m.mu.Lock()
	id := m.nextID
	for {
		if _, taken := m.channels[id]; !taken && id > 0 {
			break
		}
		id++
	}
	m.nextID = id + 1

	ch := newChannel(id, class, func(d Data) error {
		body, err := cbor.Marshal(&d)
		if err != nil {
			return err
		}
		m.manager.SendSignal(m.task, transport.SignalStreamData, body)
		return nil
	})
	m.channels[id] = ch
	m.mu.Unlock()

	ch.start(ctx)
	return id, nil
}

// Close implements `stream.ctl close`.
func (m *Multiplexer) Close(streamID int32) error {
	m.mu.Lock()
	ch, ok := m.channels[streamID]
	if ok {
		delete(m.channels, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream: unknown stream id %d", streamID)
	}
	ch.stop()
	return nil
}

// Get returns the channel for streamID, if open.
func (m *Multiplexer) Get(streamID int32) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[streamID]
	return ch, ok
}

// HandleInbound decodes a stream-data Signal payload and routes it to the
// matching channel's guest->host queue. An unknown stream-id is logged and
// the event dropped; the channel map remains usable (spec.md §7).
func (m *Multiplexer) HandleInbound(payload []byte) {
	var d Data
	if err := cbor.Unmarshal(payload, &d); err != nil {
		log.Warn("malformed stream-data payload", "error", err)
		return
	}
	ch, ok := m.Get(d.StreamID)
	if !ok {
		log.Warn("stream-data for unknown stream id", "stream_id", d.StreamID)
		return
	}
	if !ch.deliverInbound(d) {
		log.Warn("stream request queue full or closed, dropping event", "stream_id", d.StreamID)
	}
}

// TeardownAll stops every open channel, used by the task finish hook.
func (m *Multiplexer) TeardownAll() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[int32]*Channel)
	m.mu.Unlock()

	for _, ch := range chans {
		ch.stop()
	}
}
