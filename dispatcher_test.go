package lspclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponseWriter struct {
	mu      sync.Mutex
	id      string
	result  any
	rpcErr  *RPCError
	written chan struct{}
}

func newFakeResponseWriter() *fakeResponseWriter {
	return &fakeResponseWriter{written: make(chan struct{}, 1)}
}

func (w *fakeResponseWriter) writeResponse(id json.RawMessage, result any, rpcErr *RPCError) {
	w.mu.Lock()
	w.id, w.result, w.rpcErr = idKey(id), result, rpcErr
	w.mu.Unlock()
	w.written <- struct{}{}
}

func TestInboundDispatcher_ResponseCompletesPendingEntry(t *testing.T) {
	pending := newPendingTable()
	e := pending.insert("textDocument/hover")
	d := newInboundDispatcher(pending, newHandlerRegistry(), newFakeResponseWriter(), newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": e.id, "result": map[string]any{"ok": true}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	out := <-e.ch
	result, decodeErr := decodeOutcome(out)
	require.NoError(t, decodeErr)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestInboundDispatcher_UnknownServerRequestGetsMethodNotFound(t *testing.T) {
	w := newFakeResponseWriter()
	d := newInboundDispatcher(newPendingTable(), newHandlerRegistry(), w, newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "99", "method": "workspace/applyEdit", "params": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	select {
	case <-w.written:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
	require.NotNil(t, w.rpcErr)
	assert.Equal(t, CodeMethodNotFound, w.rpcErr.Code)
	assert.Equal(t, "99", w.id)
}

func TestInboundDispatcher_NumericIDRequestGetsMethodNotFound(t *testing.T) {
	w := newFakeResponseWriter()
	d := newInboundDispatcher(newPendingTable(), newHandlerRegistry(), w, newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 99, "method": "workspace/applyEdit", "params": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	select {
	case <-w.written:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
	require.NotNil(t, w.rpcErr)
	assert.Equal(t, CodeMethodNotFound, w.rpcErr.Code)
	assert.Equal(t, "99", w.id)
}

func TestInboundDispatcher_RequestHandlerPanicBecomesInternalError(t *testing.T) {
	w := newFakeResponseWriter()
	registry := newHandlerRegistry()
	require.NoError(t, registry.onRequest("workspace/applyEdit", func(ctx context.Context, params json.RawMessage) (any, *RPCError) {
		panic("boom")
	}))
	d := newInboundDispatcher(newPendingTable(), registry, w, newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "1", "method": "workspace/applyEdit", "params": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	select {
	case <-w.written:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
	require.NotNil(t, w.rpcErr)
	assert.Equal(t, CodeInternalError, w.rpcErr.Code)
}

func TestInboundDispatcher_NotificationFanOutRunsInOrder(t *testing.T) {
	registry := newHandlerRegistry()
	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 2)
	require.NoError(t, registry.onNotification("textDocument/publishDiagnostics", func(ctx context.Context, params json.RawMessage) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		done <- struct{}{}
	}))
	require.NoError(t, registry.onNotification("textDocument/publishDiagnostics", func(ctx context.Context, params json.RawMessage) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		done <- struct{}{}
	}))
	d := newInboundDispatcher(newPendingTable(), registry, newFakeResponseWriter(), newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "textDocument/publishDiagnostics", "params": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification fan-out")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestInboundDispatcher_NotificationHandlerPanicIsContained(t *testing.T) {
	registry := newHandlerRegistry()
	ran := make(chan struct{}, 1)
	require.NoError(t, registry.onNotification("$/cancelRequest", func(ctx context.Context, params json.RawMessage) {
		defer func() { ran <- struct{}{} }()
		panic("boom")
	}))
	d := newInboundDispatcher(newPendingTable(), registry, newFakeResponseWriter(), newFieldLogger(nil))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "$/cancelRequest", "params": map[string]any{"id": "1"}})
	require.NoError(t, err)
	require.NoError(t, d.handle(context.Background(), raw))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for panicking notification handler")
	}
}

func TestInboundDispatcher_NotificationWithNoHandlerIsDroppedSilently(t *testing.T) {
	d := newInboundDispatcher(newPendingTable(), newHandlerRegistry(), newFakeResponseWriter(), newFieldLogger(nil))
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "textDocument/publishDiagnostics", "params": map[string]any{}})
	require.NoError(t, err)
	assert.NoError(t, d.handle(context.Background(), raw))
}
