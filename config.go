package lspclient

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// ConfigTree is one settings tree: arbitrary nested JSON-object shaped
// data, the same shape `workspace/configuration` and
// `workspace/didChangeConfiguration` carry on the wire.
type ConfigTree = map[string]any

// ConfigListener is notified whenever the resolved configuration for any
// scope may have changed, carrying a reason string for diagnostics.
type ConfigListener func(reason string)

type configScope struct {
	glob string
	tree ConfigTree
}

// broadcaster is the narrow surface ConfigStore needs to push changes to
// every binding; satisfied by *Pool.
type broadcaster interface {
	Broadcast(ctx context.Context, method string, params any) error
}

// ConfigStore is a global settings tree plus an ordered list of
// glob-scoped overlays, with explicit-null key deletion and glob-scope
// resolution via github.com/bmatcuk/doublestar/v4 layered on top of a
// plain recursive deep-merge.
type ConfigStore struct {
	mu          sync.RWMutex
	global      ConfigTree
	scopes      []configScope
	listeners   []ConfigListener
	broadcaster broadcaster
	log         fieldLogger
}

func newConfigStore(b broadcaster, log fieldLogger) *ConfigStore {
	return &ConfigStore{
		global:      make(ConfigTree),
		broadcaster: b,
		log:         log,
	}
}

// OnChange registers a listener invoked after every UpdateGlobal/AddScope.
func (c *ConfigStore) OnChange(l ConfigListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// UpdateGlobal deep-merges patch into the global tree and pushes
// workspace/didChangeConfiguration to every binding.
func (c *ConfigStore) UpdateGlobal(ctx context.Context, patch ConfigTree) error {
	c.mu.Lock()
	c.global = deepMergeUnset(c.global, patch)
	c.mu.Unlock()
	return c.announce(ctx, "global configuration updated")
}

// AddScope registers patch under glob, merging into an existing scope
// with the same glob pattern (preserving its registration position) or
// appending a new one.
func (c *ConfigStore) AddScope(ctx context.Context, glob string, patch ConfigTree) error {
	c.mu.Lock()
	found := false
	for i := range c.scopes {
		if c.scopes[i].glob == glob {
			c.scopes[i].tree = deepMergeUnset(c.scopes[i].tree, patch)
			found = true
			break
		}
	}
	if !found {
		c.scopes = append(c.scopes, configScope{glob: glob, tree: deepMergeUnset(nil, patch)})
	}
	c.mu.Unlock()
	return c.announce(ctx, "scope "+glob+" updated")
}

// Resolve merges the global tree with every scope whose glob matches uri,
// in registration order: later-registered scopes win at conflicting
// leaves, non-conflicting sibling keys are preserved from earlier ones.
func (c *ConfigStore) Resolve(uri DocumentURI) ConfigTree {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := deepMergeUnset(nil, c.global)
	path := filepath.ToSlash(URIToFilePath(uri))
	for _, s := range c.scopes {
		matched, err := doublestar.Match(s.glob, path)
		if err != nil || !matched {
			continue
		}
		result = deepMergeUnset(result, s.tree)
	}
	return result
}

func (c *ConfigStore) announce(ctx context.Context, reason string) error {
	c.mu.RLock()
	listeners := append([]ConfigListener(nil), c.listeners...)
	c.mu.RUnlock()

	for _, l := range listeners {
		l(reason)
	}

	if c.broadcaster == nil {
		return nil
	}
	return c.broadcaster.Broadcast(ctx, "workspace/didChangeConfiguration", didChangeConfigurationParams{Settings: c.snapshot()})
}

func (c *ConfigStore) snapshot() ConfigTree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepMergeUnset(nil, c.global)
}

// handleConfigurationRequest implements the server-initiated
// workspace/configuration request: one resolved (and, if Section is set,
// narrowed) value per requested ConfigurationItem, in request order. This
// is the pull half of configuration sync; UpdateGlobal/AddScope's announce
// is the push half.
func (c *ConfigStore) handleConfigurationRequest(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p ConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	results := make([]any, len(p.Items))
	for i, item := range p.Items {
		tree := c.Resolve(item.ScopeURI)
		if item.Section == "" {
			results[i] = tree
			continue
		}
		results[i] = sectionValue(tree, item.Section)
	}
	return results, nil
}

// sectionValue walks a dotted path (e.g. "python.analysis") through tree,
// returning nil if any segment is missing or not itself a nested tree.
func sectionValue(tree ConfigTree, section string) any {
	var cur any = tree
	for _, part := range strings.Split(section, ".") {
		m, ok := cur.(ConfigTree)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

type didChangeConfigurationParams struct {
	Settings ConfigTree `json:"settings"`
}

// deepMergeUnset recursively merges patch into dst. A patch value of nil
// (an explicit JSON null) deletes the corresponding key from dst instead
// of being cloned in; maps merge recursively, any other value (including
// arrays) replaces dst's value wholesale.
func deepMergeUnset(dst, patch ConfigTree) ConfigTree {
	if dst == nil {
		dst = make(ConfigTree)
	}
	for key, patchVal := range patch {
		if patchVal == nil {
			delete(dst, key)
			continue
		}

		dstVal, exists := dst[key]
		patchMap, patchIsMap := patchVal.(ConfigTree)
		dstMap, dstIsMap := dstVal.(ConfigTree)
		if exists && patchIsMap && dstIsMap {
			dst[key] = deepMergeUnset(dstMap, patchMap)
		} else {
			dst[key] = cloneConfigValue(patchVal)
		}
	}
	return dst
}

func cloneConfigValue(v any) any {
	switch t := v.(type) {
	case ConfigTree:
		out := make(ConfigTree, len(t))
		for k, val := range t {
			out[k] = cloneConfigValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneConfigValue(val)
		}
		return out
	default:
		return v
	}
}
