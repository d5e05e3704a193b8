package lspclient

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair wires a binding's reader/writer to a codec the test drives
// directly, simulating the server side of the connection without a real
// subprocess.
type pipePair struct {
	clientR *io.PipeReader
	clientW *io.PipeWriter
	serverR *io.PipeReader
	serverW *io.PipeWriter
	server  *frameCodec
}

func newPipePair() *pipePair {
	cr, sw := io.Pipe() // server writes, client reads
	sr, cw := io.Pipe() // client writes, server reads
	return &pipePair{
		clientR: cr, clientW: cw,
		serverR: sr, serverW: sw,
		server: newFrameCodec(sr, sw),
	}
}

func (p *pipePair) newBinding() *binding {
	b := newBinding("test", p.clientR, p.clientW, pipeCloser{p}, newFieldLogger(nil))
	b.start()
	return b
}

// pipeCloser closes the client-facing ends of the pipe pair, unblocking
// the binding's reader goroutine the way closing a real subprocess's
// stdout/stdin would.
type pipeCloser struct{ p *pipePair }

func (c pipeCloser) Close() error {
	_ = c.p.clientR.Close()
	_ = c.p.clientW.Close()
	return nil
}

func TestBinding_CallRoundTrip(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	go func() {
		raw, err := p.server.readFrame()
		require.NoError(t, err)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "textDocument/hover", req.Method)

		resp, err := encodeResponse(req.ID, map[string]any{"contents": "docs"}, nil)
		require.NoError(t, err)
		require.NoError(t, p.server.writeFrame(resp))
	}()

	var result struct {
		Contents string `json:"contents"`
	}
	err := b.Call(context.Background(), "textDocument/hover", map[string]any{}, &result)
	require.NoError(t, err)
	assert.Equal(t, "docs", result.Contents)
}

func TestBinding_NotifySendsFrameWithoutID(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := p.server.readFrame()
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Nil(t, env["id"])
		assert.Equal(t, "textDocument/didOpen", env["method"])
	}()

	require.NoError(t, b.Notify(context.Background(), "textDocument/didOpen", map[string]any{}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification frame")
	}
}

func TestBinding_CallTimeoutSendsCancelRequest(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	cancelSeen := make(chan struct{})
	go func() {
		raw, err := p.server.readFrame()
		require.NoError(t, err)
		var req struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))

		raw, err = p.server.readFrame()
		require.NoError(t, err)
		var cancel struct {
			Method string `json:"method"`
			Params struct {
				ID string `json:"id"`
			} `json:"params"`
		}
		require.NoError(t, json.Unmarshal(raw, &cancel))
		if cancel.Method == methodCancelRequest && cancel.Params.ID == req.ID {
			close(cancelSeen)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Call(ctx, "textDocument/definition", map[string]any{}, nil)
	require.ErrorIs(t, err, ErrTimeout)

	select {
	case <-cancelSeen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for $/cancelRequest")
	}
}

func TestBinding_ServerInitiatedRequestGetsResponse(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()
	require.NoError(t, b.OnRequest("workspace/applyEdit", func(ctx context.Context, params json.RawMessage) (any, *RPCError) {
		return map[string]any{"applied": true}, nil
	}))

	req, err := encodeRequest(Request{ID: "srv-1", Method: "workspace/applyEdit", Params: map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, p.server.writeFrame(req))

	raw, err := p.server.readFrame()
	require.NoError(t, err)
	var resp struct {
		ID     string `json:"id"`
		Result struct {
			Applied bool `json:"applied"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "srv-1", resp.ID)
	assert.True(t, resp.Result.Applied)
}

func TestBinding_ServerInitiatedRequestWithNumericIDGetsResponse(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()
	require.NoError(t, b.OnRequest("workspace/applyEdit", func(ctx context.Context, params json.RawMessage) (any, *RPCError) {
		return map[string]any{"applied": true}, nil
	}))

	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 7, "method": "workspace/applyEdit", "params": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, p.server.writeFrame(raw))

	respRaw, err := p.server.readFrame()
	require.NoError(t, err)
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result struct {
			Applied bool `json:"applied"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respRaw, &resp))
	assert.Equal(t, "7", string(resp.ID), "a numeric request id must be echoed back verbatim, not quoted into a string")
	assert.True(t, resp.Result.Applied)
}

func TestBinding_ConcurrentCallsEachReceiveTheirOwnResultOutOfOrder(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	methods := []string{"call-a", "call-b", "call-c"}
	// The fake server reads all three requests, then replies in order
	// c, a, b — exercising that each waiter wakes with its own result
	// regardless of response order.
	go func() {
		idByMethod := make(map[string]string, len(methods))
		for range methods {
			raw, err := p.server.readFrame()
			if err != nil {
				return
			}
			var req struct {
				ID     string `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				return
			}
			idByMethod[req.Method] = req.ID
		}
		for _, m := range []string{"call-c", "call-a", "call-b"} {
			idBytes, err := json.Marshal(idByMethod[m])
			if err != nil {
				return
			}
			resp, err := encodeResponse(idBytes, map[string]any{"method": m}, nil)
			if err != nil {
				return
			}
			if err := p.server.writeFrame(resp); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	results := make([]string, len(methods))
	for i, m := range methods {
		wg.Add(1)
		go func(i int, m string) {
			defer wg.Done()
			var out struct {
				Method string `json:"method"`
			}
			err := b.Call(context.Background(), m, map[string]any{}, &out)
			require.NoError(t, err)
			results[i] = out.Method
		}(i, m)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for concurrent calls")
	}

	assert.Equal(t, methods, results, "each waiter must receive its own result regardless of server reply order")
}

func TestBinding_ReaderEOFTerminatesPendingCalls(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Call(context.Background(), "textDocument/hover", map[string]any{}, nil)
	}()

	_, err := p.server.readFrame()
	require.NoError(t, err)
	require.NoError(t, p.serverW.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminated call")
	}
	assert.True(t, b.isClosed())
}

func TestBinding_CloseIsIdempotentAndGraceful(t *testing.T) {
	p := newPipePair()
	b := p.newBinding()

	go func() {
		for {
			if _, err := p.server.readFrame(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, b.close())
	require.NoError(t, b.close())
	assert.True(t, b.isClosed())
}
