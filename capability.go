package lspclient

import (
	"context"
	"fmt"
)

// Category orders the top-level LSP capability branches. Fill order is
// topological by category, then by feature attachment order within a
// category.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryTextDocument
	CategoryWorkspace
	CategoryWindow
	CategoryNotebookDocument
)

// Feature is a capability fragment: a self-contained unit of LSP support
// a Session is composed from. Built-in
// instances live under package feature (feature/definition.go,
// feature/hover.go, ...); callers may implement their own to add support
// for methods this module does not ship.
//
// FillClientCapabilities mutates caps additively: a Feature must only set
// fields/keys it owns and must never overwrite a sibling feature's
// contribution at the same path. The composer does not enforce this at
// the type level (Go has no "write-once field" primitive) but detects key
// collisions in the Raw maps, which is where independently developed
// features are most likely to collide.
type Feature interface {
	// Name identifies the feature in error messages and logs.
	Name() string
	// Category reports which top-level capability branch this feature
	// contributes to, fixing its position in the fill order.
	Category() Category
	// FillClientCapabilities adds this feature's contribution to caps.
	FillClientCapabilities(caps *ClientCapabilities) error
	// CheckServerCapabilities validates that the server supports what
	// this feature needs. Returning a non-nil error fails the whole
	// session at initialize.
	CheckServerCapabilities(caps ServerCapabilities) error
}

// RequestBinder is implemented by features that register server-initiated
// request handlers once their capability check has passed.
type RequestBinder interface {
	BindRequests(b *Binding) error
}

// NotificationBinder is implemented by features that register
// server-initiated notification handlers once their capability check has
// passed.
type NotificationBinder interface {
	BindNotifications(b *Binding) error
}

// Binding is the exported handle a Feature uses to issue requests, send
// notifications, and register server-initiated handlers against the
// binding it was bound to. It wraps the unexported binding type so
// feature modules (including ones defined outside this module, e.g.
// package feature) can participate in RequestBinder/NotificationBinder
// without reaching into protocol-engine internals.
type Binding struct {
	b *binding
}

// Call issues a request on the underlying binding and decodes its result.
func (h *Binding) Call(ctx context.Context, method string, params, result any) error {
	return h.b.Call(ctx, method, params, result)
}

// Notify sends a fire-and-forget notification on the underlying binding.
func (h *Binding) Notify(ctx context.Context, method string, params any) error {
	return h.b.Notify(ctx, method, params)
}

// OnRequest registers a handler for a server-initiated request.
func (h *Binding) OnRequest(method string, handler RequestHandler) error {
	return h.b.OnRequest(method, handler)
}

// OnNotification registers a handler for a server-initiated notification.
func (h *Binding) OnNotification(method string, handler NotificationHandler) error {
	return h.b.OnNotification(method, handler)
}

// capabilityComposer owns the set of attached features, builds the
// ClientCapabilities tree in fill order, and after initialize validates
// ServerCapabilities and binds handlers only for features that passed.
// Features register explicitly rather than through capability mixins, so
// a caller can compose any subset of the built-in and custom features it
// needs for a given session.
type capabilityComposer struct {
	features []Feature
}

func newCapabilityComposer(features []Feature) *capabilityComposer {
	ordered := make([]Feature, len(features))
	copy(ordered, features)
	stableSortByCategory(ordered)
	return &capabilityComposer{features: ordered}
}

// stableSortByCategory performs an insertion sort by Category(), preserving
// relative order within a category (Go's sort.SliceStable would pull in
// reflection-based sort for no benefit at this N, so a plain insertion
// sort matches the size of the problem).
func stableSortByCategory(features []Feature) {
	for i := 1; i < len(features); i++ {
		j := i
		for j > 0 && features[j-1].Category() > features[j].Category() {
			features[j-1], features[j] = features[j], features[j-1]
			j--
		}
	}
}

// buildClientCapabilities runs every feature's fill step in order,
// returning the assembled tree.
func (c *capabilityComposer) buildClientCapabilities() (ClientCapabilities, error) {
	var caps ClientCapabilities
	// Collisions between features writing into the same Raw capability
	// key are caught as each fill step runs, by SetRawCapability refusing
	// to clobber an existing entry; nothing further to check once the
	// loop below completes without error.
	for _, f := range c.features {
		if err := f.FillClientCapabilities(&caps); err != nil {
			return ClientCapabilities{}, fmt.Errorf("feature %q: fill client capabilities: %w", f.Name(), err)
		}
	}
	return caps, nil
}

// validate runs every feature's server-capability check. The first
// rejection fails the whole handshake; the returned slice holds only the
// features that passed, in composer order, for bindFeatures to use.
func (c *capabilityComposer) validate(caps ServerCapabilities) ([]Feature, error) {
	validated := make([]Feature, 0, len(c.features))
	for _, f := range c.features {
		if err := f.CheckServerCapabilities(caps); err != nil {
			return nil, &CapabilityUnsupported{Feature: f.Name(), Method: "", Reason: err.Error()}
		}
		validated = append(validated, f)
	}
	return validated, nil
}

// bindFeatures registers handlers for every validated feature against b.
// Called once per binding, after that binding's initialize round-trip and
// before the binding is exposed to callers.
func bindFeatures(features []Feature, b *binding) error {
	handle := &Binding{b: b}
	for _, f := range features {
		if rb, ok := f.(RequestBinder); ok {
			if err := rb.BindRequests(handle); err != nil {
				return fmt.Errorf("feature %q: bind requests: %w", f.Name(), err)
			}
		}
		if nb, ok := f.(NotificationBinder); ok {
			if err := nb.BindNotifications(handle); err != nil {
				return fmt.Errorf("feature %q: bind notifications: %w", f.Name(), err)
			}
		}
	}
	return nil
}

// SetRawCapability writes key into m, refusing to silently overwrite an
// existing entry from another feature. Exported so feature implementations
// outside this module (and package feature) can participate in the same
// collision check the built-in features use.
func SetRawCapability(m map[string]RawMessage, key string, value RawMessage) error {
	if _, exists := m[key]; exists {
		return fmt.Errorf("lspclient: capability key %q already set by another feature", key)
	}
	m[key] = value
	return nil
}
