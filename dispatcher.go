package lspclient

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// dispatchWorkers bounds how many notification/request handlers may run
// concurrently for one binding. Response routing (the common, latency
// sensitive path) never goes through this pool — see dispatcher.handle.
const dispatchWorkers = 16

// responseWriter is the narrow surface the dispatcher needs back onto the
// wire: encoding and queuing a response to a server-initiated request. id
// is the request's raw wire bytes (see idKey) so a numeric id is echoed
// back unchanged rather than coerced into a JSON string.
type responseWriter interface {
	writeResponse(id json.RawMessage, result any, rpcErr *RPCError)
}

// inboundDispatcher classifies each frame the reader task hands it and
// routes it to exactly one of: the pending table (response), the handler
// registry (notification fan-out or a single server request), or
// MethodNotFound (unknown server request).
//
// The reader task (transport.go's readLoop) calls handle() synchronously
// for every frame. handle() itself never blocks on handler work: response
// completion is immediate and non-blocking (pendingTable.complete just
// wakes a channel), while notification/request handling is handed to a
// goroutine gated by a bounded semaphore so a slow or re-entrant handler
// can never stall the reader from observing the very response it may be
// waiting on — a server-initiated request arriving while a client call is
// still outstanding must not deadlock the read loop.
type inboundDispatcher struct {
	pending  *pendingTable
	handlers *handlerRegistry
	writer   responseWriter
	sem      *semaphore.Weighted
	log      fieldLogger
}

func newInboundDispatcher(pending *pendingTable, handlers *handlerRegistry, w responseWriter, log fieldLogger) *inboundDispatcher {
	return &inboundDispatcher{
		pending:  pending,
		handlers: handlers,
		writer:   w,
		sem:      semaphore.NewWeighted(dispatchWorkers),
		log:      log,
	}
}

// handle classifies one raw frame and routes it. It is called from the
// reader task and must not block on anything other than the fast,
// non-blocking pendingTable operations.
func (d *inboundDispatcher) handle(ctx context.Context, raw []byte) error {
	kind, env, err := classify(raw)
	if err != nil {
		return err
	}

	switch kind {
	case KindResponse:
		var rpcErr *RPCError
		if env.Error != nil {
			rpcErr = env.Error
		}
		key := idKey(env.ID)
		if err := d.pending.complete(key, env.Result, rpcErr); err != nil {
			d.log.binding("dispatcher").WithError(err).WithField("id", key).Debug("dropped late/duplicate response")
		}
		return nil

	case KindNotification, KindCancel:
		d.dispatchNotification(env.Method, env.Params)
		return nil

	case KindRequest:
		d.dispatchRequest(env.ID, env.Method, env.Params)
		return nil

	default:
		return &ProtocolError{Reason: "unclassified frame", Raw: raw}
	}
}

// dispatchNotification fans the notification out to every registered
// handler for its method, in registration order, each awaited before the
// next runs — but the whole fan-out runs off the reader goroutine so a
// slow handler never delays draining the socket.
func (d *inboundDispatcher) dispatchNotification(method string, params json.RawMessage) {
	handlers := d.handlers.notificationHandlers(method)
	if len(handlers) == 0 {
		d.log.binding("dispatcher").WithField("method", method).Debug("dropped notification: no handler registered")
		return
	}

	d.run(func(ctx context.Context) {
		for _, h := range handlers {
			d.runNotificationHandler(ctx, h, method, params)
		}
	})
}

func (d *inboundDispatcher) runNotificationHandler(ctx context.Context, h NotificationHandler, method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.binding("dispatcher").WithField("method", method).Errorf("notification handler panicked: %v", r)
		}
	}()
	h(ctx, params)
}

// dispatchRequest invokes the single handler owning method, replying with
// its result/error, MethodNotFound if no handler is registered, or
// InternalError if the handler panics. id is the request's raw wire bytes,
// echoed back unchanged in the response.
func (d *inboundDispatcher) dispatchRequest(id json.RawMessage, method string, params json.RawMessage) {
	h, ok := d.handlers.requestHandler(method)
	if !ok {
		d.writer.writeResponse(id, nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)})
		return
	}

	d.run(func(ctx context.Context) {
		result, rpcErr := d.runRequestHandler(ctx, h, method, params)
		d.writer.writeResponse(id, result, rpcErr)
	})
}

func (d *inboundDispatcher) runRequestHandler(ctx context.Context, h RequestHandler, method string, params json.RawMessage) (result any, rpcErr *RPCError) {
	defer func() {
		if r := recover(); r != nil {
			d.log.binding("dispatcher").WithField("method", method).Errorf("request handler panicked: %v", r)
			result = nil
			rpcErr = &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	return h(ctx, params)
}

// run acquires a worker slot (waiting if dispatchWorkers are all busy) and
// runs fn in a new goroutine. It never blocks the caller — acquisition
// itself happens inside the spawned goroutine — so the reader task that
// calls dispatchNotification/dispatchRequest can return immediately and go
// on reading the next frame regardless of how saturated the pool is.
func (d *inboundDispatcher) run(fn func(ctx context.Context)) {
	go func() {
		ctx := context.Background()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		fn(ctx)
	}()
}
