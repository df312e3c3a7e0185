package hostcall

import (
	"context"
	"errors"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var log = logger.For("hostcall")

var tracer = otel.Tracer("spearlet/hostcall")

// codeMethodNotFound is the wire code for an unregistered method, per spec.md §7 ("unknown method ... code 2,
// message 'method not found'").
const codeMethodNotFound int32 = 2

// codeHandlerError is the wire code for a handler-raised error (spec.md §7:
// "handler raised -> replied with code -1").
const codeHandlerError int32 = -1

// Dispatcher pulls {request, info} off the communication manager's inbox
// and invokes the matching handler as an independent unit of concurrency,
// so one slow hostcall cannot head-of-line-block the others (spec.md §4.5).
type Dispatcher struct {
	registry *Registry
	manager  *comm.Manager
	eg       errgroup.Group
}

// NewDispatcher binds a registry to the manager whose inbox it will drain.
func NewDispatcher(registry *Registry, manager *comm.Manager) *Dispatcher {
	return &Dispatcher{registry: registry, manager: manager}
}

// Run blocks, draining the inbox until ctx is cancelled. Each inbound
// request is handled on its own goroutine via errgroup so dispatcher
// shutdown (Wait) can drain in-flight handlers without losing track of
// them.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-d.manager.Inbox():
			if !ok {
				return
			}
			d.eg.Go(func() error {
				d.handle(ctx, req)
				return nil
			})
		}
	}
}

// Wait blocks until every in-flight handler invocation started by Run has
// returned. Call after cancelling Run's context.
func (d *Dispatcher) Wait() {
	_ = d.eg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, req comm.InboundRequest) {
	ctx, span := tracer.Start(ctx, "hostcall."+req.Method.String(),
		trace.WithAttributes(attribute.Int64("spearlet.request_id", req.ID)))
	defer span.End()

	fireAndForget := req.ID < 0

	handler, schema, ok := d.registry.lookup(req.Method)
	if !ok {
		log.Warn("unknown hostcall method", "method", req.Method.String(), "request_id", req.ID)
		if !fireAndForget {
			d.manager.SendResponseError(req.Info.Task, req.ID, codeMethodNotFound, "method not found")
		}
		return
	}

	if err := validateArgs(schema, req.Payload); err != nil {
		if !fireAndForget {
			d.manager.SendResponseError(req.Info.Task, req.ID, codeHandlerError, err.Error())
		}
		return
	}

	result, err := handler(ctx, req.Info, req.Payload)
	if err != nil {
		span.RecordError(err)
		if !fireAndForget {
			var coded *CodedError
			if errors.As(err, &coded) {
				d.manager.SendResponseErrorPayload(req.Info.Task, req.ID, coded.Code, coded.Message, coded.Payload)
			} else {
				d.manager.SendResponseError(req.Info.Task, req.ID, codeHandlerError, err.Error())
			}
		}
		return
	}

	// Fire-and-forget requests (negative id) never get a Response frame,
	// per spec.md §3's Frame invariants; just the handler's side effects.
	if fireAndForget {
		log.Debug("fire-and-forget hostcall completed", "method", req.Method.String())
		return
	}
	d.manager.SendResponse(req.Info.Task, req.ID, result)
}
