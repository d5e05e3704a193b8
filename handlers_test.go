package lspclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry_NotificationsFanOutInOrder(t *testing.T) {
	r := newHandlerRegistry()
	var order []int
	require.NoError(t, r.onNotification("textDocument/publishDiagnostics", func(ctx context.Context, params json.RawMessage) {
		order = append(order, 1)
	}))
	require.NoError(t, r.onNotification("textDocument/publishDiagnostics", func(ctx context.Context, params json.RawMessage) {
		order = append(order, 2)
	}))

	handlers := r.notificationHandlers("textDocument/publishDiagnostics")
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		h(context.Background(), nil)
	}
	assert.Equal(t, []int{1, 2}, order)
}

func TestHandlerRegistry_RequestOwnershipConflict(t *testing.T) {
	r := newHandlerRegistry()
	h := func(ctx context.Context, params json.RawMessage) (any, *RPCError) { return nil, nil }
	require.NoError(t, r.onRequest("workspace/applyEdit", h))
	err := r.onRequest("workspace/applyEdit", h)
	assert.ErrorIs(t, err, ErrMethodOwnershipConflict)
}

func TestHandlerRegistry_ClosedRejectsRegistration(t *testing.T) {
	r := newHandlerRegistry()
	r.close()

	err := r.onNotification("x", func(context.Context, json.RawMessage) {})
	assert.ErrorIs(t, err, ErrRegistryClosed)

	err = r.onRequest("x", func(context.Context, json.RawMessage) (any, *RPCError) { return nil, nil })
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestHandlerRegistry_RequestHandlerLookupMiss(t *testing.T) {
	r := newHandlerRegistry()
	_, ok := r.requestHandler("nope")
	assert.False(t, ok)
}
