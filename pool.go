package lspclient

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ringReplicas is the number of virtual nodes placed on the hash ring per
// live member, smoothing the key distribution a plain mod-N hash would
// otherwise give a handful of members.
const ringReplicas = 64

// defaultMaxInFlight bounds how many outstanding requests one binding may
// have before the pool's routing blocks awaiting a completion.
const defaultMaxInFlight = 64

// poolMember is one binding under pool management together with its own
// Document Sync Guard and a counting semaphore standing in for its
// bounded in-flight window. The semaphore's current length doubles as the
// "outstanding requests" count the least-outstanding policy reads.
type poolMember struct {
	name string
	b    *binding
	docs *documentGuard
	sem  chan struct{}
	down atomic.Bool
}

func newPoolMember(name string, b *binding, docs *documentGuard, maxInFlight int) *poolMember {
	return &poolMember{name: name, b: b, docs: docs, sem: make(chan struct{}, maxInFlight)}
}

func (m *poolMember) outstanding() int { return len(m.sem) }

func (m *poolMember) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *poolMember) release() { <-m.sem }

// Call issues a request on this member, respecting its in-flight window
// and marking the member down if the binding terminates mid-call.
func (m *poolMember) Call(ctx context.Context, method string, params, result any) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	err := m.b.Call(ctx, method, params, result)
	if errors.Is(err, ErrTerminated) {
		m.down.Store(true)
	}
	return err
}

// Notify sends a fire-and-forget notification on this member. Unlike
// Call it does not consume an in-flight slot: a notification has no
// response to wait for, so it cannot contribute to request backpressure.
func (m *poolMember) Notify(ctx context.Context, method string, params any) error {
	err := m.b.Notify(ctx, method, params)
	if errors.Is(err, ErrTerminated) {
		m.down.Store(true)
	}
	return err
}

// hashRing is a consistent-hash ring over live pool members, used to pin
// a document-scoped request's URI set to a single binding so that a
// document's didOpen/didClose always land on the same server. Implemented
// directly on hash/fnv.
type hashRing struct {
	points []ringPoint
}

type ringPoint struct {
	hash   uint32
	member int
}

func buildHashRing(members []*poolMember) *hashRing {
	points := make([]ringPoint, 0, len(members)*ringReplicas)
	for i, m := range members {
		for r := 0; r < ringReplicas; r++ {
			points = append(points, ringPoint{hash: fnv32a(m.name + "#" + strconv.Itoa(r)), member: i})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })
	return &hashRing{points: points}
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// route returns the member index owning key, walking clockwise from key's
// hash. skip reports whether a candidate member must be passed over
// (down), so routing never lands a request on a known-bad binding.
func (r *hashRing) route(key string, skip func(member int) bool) (int, bool) {
	if len(r.points) == 0 {
		return 0, false
	}
	h := fnv32a(key)
	start := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })

	for i := 0; i < len(r.points); i++ {
		p := r.points[(start+i)%len(r.points)]
		if !skip(p.member) {
			return p.member, true
		}
	}
	return 0, false
}

// Pool is N equivalent bindings to the same language server, load-balanced
// by request shape: consistent hash for document-scoped requests so a
// document's lifecycle notifications always land on one binding, and
// least-outstanding-requests for workspace-scoped ones.
type Pool struct {
	mu      sync.RWMutex
	members []*poolMember
	ring    *hashRing
	log     fieldLogger
}

func newPool(members []*poolMember, log fieldLogger) *Pool {
	return &Pool{members: members, ring: buildHashRing(members), log: log}
}

// MemberForDocuments routes a document-scoped request to the binding that
// consistently owns the given URI set, skipping any member currently
// marked down.
func (p *Pool) MemberForDocuments(uris []DocumentURI) (*poolMember, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.members) == 0 {
		return nil, ErrNoBindings
	}

	key := hashKeyForURIs(uris)
	idx, ok := p.ring.route(key, func(i int) bool { return p.members[i].down.Load() })
	if !ok {
		return nil, ErrNoBindings
	}
	return p.members[idx], nil
}

func hashKeyForURIs(uris []DocumentURI) string {
	sorted := make([]string, len(uris))
	for i, u := range uris {
		sorted[i] = string(u)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// MemberLeastOutstanding routes a workspace-scoped request to the live
// member with the fewest outstanding calls.
func (p *Pool) MemberLeastOutstanding() (*poolMember, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *poolMember
	for _, m := range p.members {
		if m.down.Load() {
			continue
		}
		if best == nil || m.outstanding() < best.outstanding() {
			best = m
		}
	}
	if best == nil {
		return nil, ErrNoBindings
	}
	return best, nil
}

// CallDocumentScoped routes and issues a request tied to one or more
// document URIs.
func (p *Pool) CallDocumentScoped(ctx context.Context, uris []DocumentURI, method string, params, result any) error {
	m, err := p.MemberForDocuments(uris)
	if err != nil {
		return err
	}
	return m.Call(ctx, method, params, result)
}

// CallWorkspaceScoped routes and issues a request with no document
// affinity.
func (p *Pool) CallWorkspaceScoped(ctx context.Context, method string, params, result any) error {
	m, err := p.MemberLeastOutstanding()
	if err != nil {
		return err
	}
	return m.Call(ctx, method, params, result)
}

// NotifyDocumentScoped routes and sends a notification tied to one or
// more document URIs, to the same binding CallDocumentScoped/the Document
// Sync Guard would choose for them (e.g. textDocument/didChange for a
// document opened elsewhere must land on the binding that opened it).
func (p *Pool) NotifyDocumentScoped(ctx context.Context, uris []DocumentURI, method string, params any) error {
	m, err := p.MemberForDocuments(uris)
	if err != nil {
		return err
	}
	return m.Notify(ctx, method, params)
}

// Broadcast fans a notification out to every live member, e.g. a global
// workspace/didChangeConfiguration push.
func (p *Pool) Broadcast(ctx context.Context, method string, params any) error {
	p.mu.RLock()
	members := make([]*poolMember, 0, len(p.members))
	for _, m := range p.members {
		if !m.down.Load() {
			members = append(members, m)
		}
	}
	p.mu.RUnlock()

	var firstErr error
	for _, m := range members {
		if err := m.Notify(ctx, method, params); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Live reports the members not currently marked down.
func (p *Pool) Live() []*poolMember {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*poolMember, 0, len(p.members))
	for _, m := range p.members {
		if !m.down.Load() {
			out = append(out, m)
		}
	}
	return out
}

// AllDown reports whether every member is marked down. The Lifecycle
// Controller does not consult it: a session whose members are all down
// stays running until Shutdown is called, and its calls fail with
// ErrNoBindings.
func (p *Pool) AllDown() bool {
	return len(p.Live()) == 0
}

// MarkDown forces a member out of rotation, e.g. after a health check or
// process-exit notification the binding itself could not observe
// directly as a read error.
func (p *Pool) MarkDown(name string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.members {
		if m.name == name {
			m.down.Store(true)
			return
		}
	}
}

// Close closes every member's binding, collecting the first error.
func (p *Pool) Close() error {
	p.mu.RLock()
	members := append([]*poolMember(nil), p.members...)
	p.mu.RUnlock()

	var firstErr error
	for _, m := range members {
		if err := m.b.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
