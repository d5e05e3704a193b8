package lspclient

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// outcome is what a pending entry's waiter ultimately receives: a decoded
// result, an RPC error from the server, or one of Cancelled/Timeout/
// Terminated — exactly one outcome per request, ever.
type outcome struct {
	result json.RawMessage
	rpcErr *RPCError
	err    error // ErrCancelled / ErrTimeout / ErrTerminated when set
}

// pendingEntry is the per-request state: id, a completion slot, and a
// cancellation hook. The deadline itself is owned by the caller's
// context, not by the table — the table only exposes cancel().
type pendingEntry struct {
	id     string
	method string
	ch     chan outcome
	sent   bool // true once the request bytes have reached the wire
	once   sync.Once
}

// pendingTable maps outstanding request ids to their completion slot. It
// is the sole owner of the id space for one binding: insert() mints a
// fresh UUID so id -> entry is a bijection for the entry's lifetime, never
// reused concurrently. The table is decoupled from raw wire writes —
// sending the request and emitting $/cancelRequest on the wire are the
// Transport binding's job, not the table's.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// insert creates a new pending entry with a fresh id and returns it. The
// caller is responsible for sending the request on the wire and for
// calling markSent once that succeeds (the cancel hook needs to know
// whether to bother emitting $/cancelRequest).
func (t *pendingTable) insert(method string) *pendingEntry {
	e := &pendingEntry{
		id:     uuid.NewString(),
		method: method,
		ch:     make(chan outcome, 1),
	}
	t.mu.Lock()
	t.entries[e.id] = e
	t.mu.Unlock()
	return e
}

func (t *pendingTable) markSent(id string) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		e.sent = true
	}
	t.mu.Unlock()
}

// complete decodes raw against nothing (decoding is the caller's/feature's
// job at the call site) and wakes exactly one waiter. A completion for an
// id with no pending entry is a duplicate/late completion: logged and
// silently dropped, never surfaced to the wire.
func (t *pendingTable) complete(id string, result json.RawMessage, rpcErr *RPCError) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return ErrDuplicateCompletion
	}

	e.once.Do(func() {
		e.ch <- outcome{result: result, rpcErr: rpcErr}
	})
	return nil
}

// cancel removes the entry (if present), wakes its waiter with
// ErrCancelled, and reports whether the request had already reached the
// wire — the Transport binding uses that to decide whether $/cancelRequest
// needs to be sent. cancel is idempotent: cancelling twice, or cancelling
// after completion, is a no-op the second time.
func (t *pendingTable) cancel(id string) (wasSent bool, ok bool) {
	t.mu.Lock()
	e, exists := t.entries[id]
	if exists {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !exists {
		return false, false
	}
	e.once.Do(func() {
		e.ch <- outcome{err: ErrCancelled}
	})
	return e.sent, true
}

// timeout behaves like cancel but reports Timeout to the waiter instead
// of Cancelled.
func (t *pendingTable) timeout(id string) (wasSent bool, ok bool) {
	t.mu.Lock()
	e, exists := t.entries[id]
	if exists {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !exists {
		return false, false
	}
	e.once.Do(func() {
		e.ch <- outcome{err: ErrTimeout}
	})
	return e.sent, true
}

// terminateAll drains the table, waking every waiter with ErrTerminated.
// Called when a binding shuts down.
func (t *pendingTable) terminateAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.once.Do(func() {
			e.ch <- outcome{err: ErrTerminated}
		})
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// decodeOutcome unpacks a completed entry's outcome into the (result, error)
// shape Call() returns. Used by binding.awaitEntry (transport.go), which
// on cancellation/timeout calls cancel(), re-checks the completion slot
// for a result that raced in, and emits the wire-level $/cancelRequest.
func decodeOutcome(o outcome) (json.RawMessage, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.rpcErr != nil {
		return nil, o.rpcErr
	}
	return o.result, nil
}
