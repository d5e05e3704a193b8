package lspclient

import "encoding/json"

// The types below are the minimal opaque LSP surface the core itself must
// understand: positions/ranges for document-sync bookkeeping, and the two
// capability trees the Capability Composer (capability.go) builds and
// validates. Everything else — completion items, diagnostics, code
// actions, and so on — is deliberately NOT modeled here; the exhaustive
// per-operation LSP schema is out of scope for the core, and feature
// modules (feature/*.go) carry their own params/result types and
// decoders.

// Position is a zero-based line/character offset, where character is
// counted in UTF-16 code units per the LSP spec.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a start/end pair of Positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location pairs a DocumentURI with a Range inside it.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier adds a version number to an identifier.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentItem is the full payload used to open a document.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is the common request shape for
// document+position operations (definition, hover, completion, ...).
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// TextDocumentContentChangeEvent describes one incremental or full change.
// A nil Range means the Text replaces the whole document (full sync).
type TextDocumentContentChangeEvent struct {
	Range       *Range `json:"range,omitempty"`
	RangeLength int    `json:"rangeLength,omitempty"`
	Text        string `json:"text"`
}

// WorkspaceFolder names one root folder of the workspace.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// InitializeParams are the parameters of the initialize request, assembled
// by the Capability Composer from the union of feature capability
// fragments.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
	Trace                 string             `json:"trace,omitempty"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the connected server, if it said so.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities is the tree the Capability Composer builds by
// invoking every attached feature's fill step. It is organized the way
// LSP 3.17 organizes it: general, textDocument, workspace, window,
// notebookDocument. Unknown/unused branches are left nil and omitted on
// the wire.
type ClientCapabilities struct {
	General          *GeneralClientCapabilities   `json:"general,omitempty"`
	TextDocument     *TextDocumentClientCaps      `json:"textDocument,omitempty"`
	Workspace        *WorkspaceClientCapabilities `json:"workspace,omitempty"`
	Window           *WindowClientCapabilities    `json:"window,omitempty"`
	NotebookDocument json.RawMessage              `json:"notebookDocument,omitempty"`
	Experimental     any                          `json:"experimental,omitempty"`
}

// GeneralClientCapabilities are client capabilities that aren't scoped to
// a document or the workspace.
type GeneralClientCapabilities struct {
	PositionEncodings []string `json:"positionEncodings,omitempty"`
}

// WindowClientCapabilities describe client support for window features.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
}

// TextDocumentClientCaps is a generic, extensible bag of per-method
// text-document capability sub-trees. Feature modules merge their own
// sub-tree into this map-shaped structure via Raw so the core never needs
// to know every LSP method's capability shape — only that fragments must
// not collide (capability.go enforces that).
type TextDocumentClientCaps struct {
	Synchronization *TextDocumentSyncClientCaps `json:"synchronization,omitempty"`
	Raw             map[string]json.RawMessage  `json:"-"`
}

// MarshalJSON flattens Raw alongside the typed fields so feature-supplied
// capability fragments (e.g. "completion", "definition", "hover") appear
// as siblings of Synchronization in the wire object.
func (t TextDocumentClientCaps) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range t.Raw {
		out[k] = v
	}
	if t.Synchronization != nil {
		raw, err := json.Marshal(t.Synchronization)
		if err != nil {
			return nil, err
		}
		out["synchronization"] = raw
	}
	return json.Marshal(out)
}

// TextDocumentSyncClientCaps describes support for open/change/close/save
// notifications. It is a typed field rather than a Raw entry, and is
// filled only when package feature's DocumentSync feature is attached.
type TextDocumentSyncClientCaps struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	WillSave            bool `json:"willSave,omitempty"`
	WillSaveWaitUntil   bool `json:"willSaveWaitUntil,omitempty"`
	DidSave             bool `json:"didSave,omitempty"`
}

// WorkspaceClientCapabilities mirrors TextDocumentClientCaps's pattern for
// the workspace/* capability branch.
type WorkspaceClientCapabilities struct {
	WorkspaceFolders       bool                       `json:"workspaceFolders,omitempty"`
	Configuration          bool                       `json:"configuration,omitempty"`
	DidChangeConfiguration *DynamicRegistrationCaps   `json:"didChangeConfiguration,omitempty"`
	DidChangeWatchedFiles  *DynamicRegistrationCaps   `json:"didChangeWatchedFiles,omitempty"`
	Raw                    map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Raw the same way TextDocumentClientCaps does.
func (w WorkspaceClientCapabilities) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range w.Raw {
		out[k] = v
	}
	if w.WorkspaceFolders {
		out["workspaceFolders"] = json.RawMessage("true")
	}
	if w.Configuration {
		out["configuration"] = json.RawMessage("true")
	}
	if w.DidChangeConfiguration != nil {
		raw, err := json.Marshal(w.DidChangeConfiguration)
		if err != nil {
			return nil, err
		}
		out["didChangeConfiguration"] = raw
	}
	if w.DidChangeWatchedFiles != nil {
		raw, err := json.Marshal(w.DidChangeWatchedFiles)
		if err != nil {
			return nil, err
		}
		out["didChangeWatchedFiles"] = raw
	}
	return json.Marshal(out)
}

// DynamicRegistrationCaps is the common {"dynamicRegistration": bool} leaf.
type DynamicRegistrationCaps struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// ServerCapabilities is the server's half of the handshake. Like
// ClientCapabilities it is kept generic: feature validators inspect Raw
// for methods the core's type surface does not model by name.
type ServerCapabilities struct {
	TextDocumentSync json.RawMessage            `json:"textDocumentSync,omitempty"`
	Workspace        *ServerWorkspaceCaps       `json:"workspace,omitempty"`
	Raw              map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON captures every key into Raw, then additionally decodes the
// fields the core itself inspects. This lets feature validators look up
// "definitionProvider", "completionProvider", etc. out of Raw by method
// name without the core needing a struct field for every LSP capability.
func (s *ServerCapabilities) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Raw = raw
	if v, ok := raw["textDocumentSync"]; ok {
		s.TextDocumentSync = v
	}
	if v, ok := raw["workspace"]; ok {
		var ws ServerWorkspaceCaps
		if err := json.Unmarshal(v, &ws); err == nil {
			s.Workspace = &ws
		}
	}
	return nil
}

// ServerWorkspaceCaps describes workspace-scoped server capabilities.
type ServerWorkspaceCaps struct {
	WorkspaceFolders *WorkspaceFoldersServerCaps `json:"workspaceFolders,omitempty"`
}

// WorkspaceFoldersServerCaps describes server support for workspace
// folders.
type WorkspaceFoldersServerCaps struct {
	Supported           bool `json:"supported,omitempty"`
	ChangeNotifications any  `json:"changeNotifications,omitempty"`
}

// ProviderSupported reports whether raw server capabilities declare
// support for a boolean-or-options-shaped provider field (e.g.
// "definitionProvider": true, or "definitionProvider": {...}). Both forms
// mean "supported"; absence or an explicit false means "not supported".
// Feature validators (feature/*.go) use this helper to implement
// check-server-caps without the core needing a typed field per method.
func ProviderSupported(caps ServerCapabilities, key string) bool {
	raw, ok := caps.Raw[key]
	if !ok {
		return false
	}
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		return asBool
	}
	// Any non-bool, non-null JSON value (object/array/string) is treated
	// as an options payload, which LSP uses to mean "supported, with
	// these options".
	trimmed := string(raw)
	return trimmed != "null" && trimmed != ""
}

// TextDocumentSyncKind mirrors LSP's textDocumentSync kind enum.
type TextDocumentSyncKind int

const (
	TextDocumentSyncKindNone TextDocumentSyncKind = iota
	TextDocumentSyncKindFull
	TextDocumentSyncKindIncremental
)

// DidOpenTextDocumentParams is sent when the Document Sync Guard opens a
// document for the first time (refcount 0->1).
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams carries incremental or full content changes.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams is sent when the Document Sync Guard's
// refcount for a URI drops to zero.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams is sent on an explicit save notification.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text,omitempty"`
}

// ConfigurationParams is the server's workspace/configuration request
// payload: one or more items, each asking for the settings at a given
// scope and/or dotted section path.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// ConfigurationItem names one requested settings slice. ScopeURI, when
// present, asks for the Configuration Store's resolved view for that
// document/folder rather than the global tree; Section, when present,
// narrows the result to one dotted path within that tree (e.g.
// "python.analysis") instead of returning the whole thing.
type ConfigurationItem struct {
	ScopeURI DocumentURI `json:"scopeUri,omitempty"`
	Section  string      `json:"section,omitempty"`
}
