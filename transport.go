package lspclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// writeQueueDepth bounds how many outbound frames may be queued ahead of
// the writer goroutine. Call/Notify/writeResponse block once it is full,
// giving backpressure instead of unbounded buffering.
const writeQueueDepth = 256

// closeGracePeriod is how long Close waits for the writer's queue to
// drain after the shutdown/exit handshake before forcing the underlying
// connection closed.
const closeGracePeriod = 2 * time.Second

// maxWriteAttempts bounds the retries a single frame gets on a transient
// write error before the binding is declared terminated.
const maxWriteAttempts = 3

type writeItem struct {
	body      []byte
	requestID string // non-empty only for client-issued requests
}

// binding is one live connection to one language server, composed from
// the frame codec, pending table, handler registry and inbound
// dispatcher. The reader goroutine is a pure producer — it only decodes
// frames and hands them to the dispatcher, which itself never blocks the
// reader (see dispatcher.go). The writer goroutine is the only thing that
// touches the wire on the write side, serializing concurrent
// Call/Notify/writeResponse callers through writeCh.
type binding struct {
	name   string
	codec  *frameCodec
	closer io.Closer

	pending  *pendingTable
	handlers *handlerRegistry
	dispatch *inboundDispatcher

	writeCh chan writeItem

	closed    atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	stopWrite chan struct{}

	readerDone chan struct{}
	writerDone chan struct{}
	termErr    atomic.Pointer[error]

	log fieldLogger
}

func newBinding(name string, r io.Reader, w io.Writer, c io.Closer, log fieldLogger) *binding {
	b := &binding{
		name:       name,
		codec:      newFrameCodec(r, w),
		closer:     c,
		pending:    newPendingTable(),
		handlers:   newHandlerRegistry(),
		writeCh:    make(chan writeItem, writeQueueDepth),
		stopWrite:  make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		log:        log,
	}
	b.dispatch = newInboundDispatcher(b.pending, b.handlers, b, log)
	return b
}

// start launches the reader and writer goroutines. It must be called
// exactly once, before any Call/Notify.
func (b *binding) start() {
	go b.readLoop()
	go b.writeLoop()
}

func (b *binding) readLoop() {
	defer close(b.readerDone)
	ctx := context.Background()
	for {
		raw, err := b.codec.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.terminate(ErrTerminated)
			} else {
				b.terminate(err)
			}
			return
		}
		if err := b.dispatch.handle(ctx, raw); err != nil {
			b.log.binding(b.name).WithError(err).Warn("dropping malformed inbound frame")
		}
	}
}

func (b *binding) writeLoop() {
	defer close(b.writerDone)
	for {
		select {
		case item := <-b.writeCh:
			if !b.writeOne(item) {
				return
			}
		case <-b.stopWrite:
			b.drainWriteQueue()
			return
		case <-b.readerDone:
			return
		}
	}
}

// writeOne writes a single queued frame, reporting false if the binding
// should terminate as a result.
func (b *binding) writeOne(item writeItem) bool {
	if err := b.writeWithRetry(item.body); err != nil {
		b.terminate(err)
		return false
	}
	if item.requestID != "" {
		b.pending.markSent(item.requestID)
	}
	return true
}

// drainWriteQueue flushes whatever is already buffered in writeCh after a
// graceful close was requested, without accepting anything new (enqueue
// rejects once b.closing is set).
func (b *binding) drainWriteQueue() {
	for {
		select {
		case item := <-b.writeCh:
			if !b.writeOne(item) {
				return
			}
		default:
			return
		}
	}
}

// writeWithRetry writes one frame, retrying transient failures with
// bounded exponential backoff before giving up.
func (b *binding) writeWithRetry(body []byte) error {
	attempt := 0
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		attempt++
		werr := b.codec.writeFrame(body)
		if werr == nil {
			return struct{}{}, nil
		}
		if attempt >= maxWriteAttempts {
			return struct{}{}, backoff.Permanent(werr)
		}
		return struct{}{}, werr
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxWriteAttempts))
	return err
}

// enqueue hands one frame to the writer goroutine, blocking (subject to
// ctx) if the write queue is full.
func (b *binding) enqueue(ctx context.Context, item writeItem) error {
	if b.closed.Load() || b.closing.Load() {
		return ErrTerminated
	}
	select {
	case b.writeCh <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.readerDone:
		return ErrTerminated
	case <-b.stopWrite:
		return ErrTerminated
	}
}

// Call issues a request and blocks until it completes, is cancelled via
// ctx, times out, or the binding terminates. result may be nil to discard
// the response payload.
func (b *binding) Call(ctx context.Context, method string, params any, result any) error {
	if b.closed.Load() {
		return ErrTerminated
	}
	entry := b.pending.insert(method)
	body, err := encodeRequest(Request{ID: entry.id, Method: method, Params: params})
	if err != nil {
		b.pending.cancel(entry.id)
		return err
	}
	if err := b.enqueue(ctx, writeItem{body: body, requestID: entry.id}); err != nil {
		b.pending.cancel(entry.id)
		return err
	}

	raw, err := b.awaitEntry(ctx, entry)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		return json.Unmarshal(raw, result)
	}
	return nil
}

// awaitEntry blocks on one pending entry, and on cancellation/timeout also
// emits a best-effort $/cancelRequest over the wire if the request had
// already been sent.
func (b *binding) awaitEntry(ctx context.Context, e *pendingEntry) (json.RawMessage, error) {
	select {
	case o := <-e.ch:
		return decodeOutcome(o)
	case <-ctx.Done():
		wasSent, ok := b.pending.cancel(e.id)
		// A completion may have raced in just before cancel() ran and found
		// the entry already gone; prefer a real result over a synthesized
		// Cancelled/Timeout if one is sitting in the buffer.
		select {
		case o := <-e.ch:
			return decodeOutcome(o)
		default:
		}
		if ok && wasSent {
			b.notifyCancel(e.id)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ErrCancelled
	case <-b.readerDone:
		return nil, ErrTerminated
	}
}

func (b *binding) notifyCancel(id string) {
	body, err := encodeCancel(id)
	if err != nil {
		return
	}
	// Best-effort: a full queue or a terminated binding silently drops
	// the notification.
	select {
	case b.writeCh <- writeItem{body: body}:
	case <-b.readerDone:
	case <-b.stopWrite:
	default:
	}
}

// Notify sends a fire-and-forget notification.
func (b *binding) Notify(ctx context.Context, method string, params any) error {
	if b.closed.Load() {
		return ErrTerminated
	}
	body, err := encodeNotification(Notification{Method: method, Params: params})
	if err != nil {
		return err
	}
	return b.enqueue(ctx, writeItem{body: body})
}

// writeResponse implements responseWriter for the dispatcher: it encodes
// and best-effort-enqueues a response to a server-initiated request. id is
// the request's raw wire bytes, echoed back unchanged.
func (b *binding) writeResponse(id json.RawMessage, result any, rpcErr *RPCError) {
	body, err := encodeResponse(id, result, rpcErr)
	if err != nil {
		b.log.binding(b.name).WithError(err).Error("failed to encode response to server request")
		return
	}
	select {
	case b.writeCh <- writeItem{body: body}:
	case <-b.readerDone:
	case <-b.stopWrite:
	}
}

// OnNotification registers a fan-out handler.
func (b *binding) OnNotification(method string, h NotificationHandler) error {
	return b.handlers.onNotification(method, h)
}

// OnRequest registers the single handler owning a server-request method.
func (b *binding) OnRequest(method string, h RequestHandler) error {
	return b.handlers.onRequest(method, h)
}

// freezeHandlers stops further handler registration; called once the
// lifecycle leaves `initializing`.
func (b *binding) freezeHandlers() {
	b.handlers.close()
}

// terminate marks the binding down, wakes every pending caller with
// ErrTerminated, and closes the underlying connection. Safe to call more
// than once and from either goroutine.
func (b *binding) terminate(cause error) {
	if b.closed.Swap(true) {
		return
	}
	b.termErr.Store(&cause)
	b.pending.terminateAll()
	if b.closer != nil {
		_ = b.closer.Close()
	}
}

// err reports the cause terminate() was called with, if any.
func (b *binding) err() error {
	p := b.termErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// isClosed reports whether the binding has terminated.
func (b *binding) isClosed() bool {
	return b.closed.Load()
}

// close performs the graceful half-close: it stops accepting new writes,
// waits up to closeGracePeriod for the writer to drain the queue already
// enqueued, then forces the connection closed. Safe to call more than
// once; only the first call does anything.
func (b *binding) close() error {
	b.closing.Store(true)
	b.closeOnce.Do(func() { close(b.stopWrite) })

	select {
	case <-b.writerDone:
	case <-time.After(closeGracePeriod):
	}

	b.terminate(ErrTerminated)

	select {
	case <-b.readerDone:
	case <-time.After(closeGracePeriod):
	}
	return nil
}
