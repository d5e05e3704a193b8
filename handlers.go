package lspclient

import (
	"context"
	"encoding/json"
	"sync"
)

// NotificationHandler handles one server-to-client notification. Several
// handlers may be registered for the same method; they fan out in
// registration order.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// RequestHandler handles one server-to-client request and returns the
// result to encode into the response, or an *RPCError to send instead.
// Only a single handler may own a given method.
type RequestHandler func(ctx context.Context, params json.RawMessage) (result any, rpcErr *RPCError)

// handlerRegistry is a method->ordered-list map for notifications and a
// method->single-handler map for requests. Registration is only permitted
// before the lifecycle enters `initialized` so the wire is known to be
// idle. Lookups are not lock-free: each one takes the RWMutex's read
// lock, before and after close().
type handlerRegistry struct {
	mu            sync.RWMutex
	closed        bool
	notifications map[string][]NotificationHandler
	requests      map[string]RequestHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		notifications: make(map[string][]NotificationHandler),
		requests:      make(map[string]RequestHandler),
	}
}

// onNotification registers a fan-out handler for a notification method.
// Returns ErrRegistryClosed if called after close().
func (r *handlerRegistry) onNotification(method string, h NotificationHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.notifications[method] = append(r.notifications[method], h)
	return nil
}

// onRequest registers the single handler for a server-initiated request
// method. Returns ErrMethodOwnershipConflict if a handler is already
// registered for that method, or ErrRegistryClosed after close().
func (r *handlerRegistry) onRequest(method string, h RequestHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.requests[method]; exists {
		return ErrMethodOwnershipConflict
	}
	r.requests[method] = h
	return nil
}

// close freezes the registry against further registration. Called by the
// Lifecycle Controller when the session transitions out of `initializing`.
func (r *handlerRegistry) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *handlerRegistry) notificationHandlers(method string) []NotificationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.notifications[method]
	out := make([]NotificationHandler, len(hs))
	copy(out, hs)
	return out
}

func (r *handlerRegistry) requestHandler(method string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.requests[method]
	return h, ok
}
