package feature

import (
	"context"
	"encoding/json"
	"fmt"

	lspclient "github.com/observerw/lsp-client-go"
)

// DocumentSync declares the textDocument/synchronization client
// capability (didOpen/didClose always happen via the core's Document
// Sync Guard; this feature additionally declares willSave/didSave
// support) and exposes the two sync operations the guard does not itself
// cover: content change and explicit save. It provides no willSave
// operation.
type DocumentSync struct {
	syncKind lspclient.TextDocumentSyncKind
}

func NewDocumentSync() *DocumentSync { return &DocumentSync{} }

func (f *DocumentSync) Name() string                 { return "textDocument/synchronization" }
func (f *DocumentSync) Category() lspclient.Category { return lspclient.CategoryTextDocument }

func (f *DocumentSync) FillClientCapabilities(caps *lspclient.ClientCapabilities) error {
	if caps.TextDocument == nil {
		caps.TextDocument = &lspclient.TextDocumentClientCaps{}
	}
	caps.TextDocument.Synchronization = &lspclient.TextDocumentSyncClientCaps{
		DynamicRegistration: false,
		WillSave:            true,
		WillSaveWaitUntil:   false,
		DidSave:             true,
	}
	return nil
}

// CheckServerCapabilities decodes textDocumentSync, which LSP allows to be
// either a bare number (TextDocumentSyncKind) or a
// TextDocumentSyncOptions object whose "change" field carries the kind.
// Any value other than an explicit "none" is accepted: even a server that
// only wants full-document sync still needs didOpen/didClose from the
// Document Sync Guard.
func (f *DocumentSync) CheckServerCapabilities(caps lspclient.ServerCapabilities) error {
	if len(caps.TextDocumentSync) == 0 {
		f.syncKind = lspclient.TextDocumentSyncKindFull
		return nil
	}

	var kind lspclient.TextDocumentSyncKind
	if err := json.Unmarshal(caps.TextDocumentSync, &kind); err == nil {
		f.syncKind = kind
		return f.rejectIfNone()
	}

	var opts struct {
		Change lspclient.TextDocumentSyncKind `json:"change"`
	}
	if err := json.Unmarshal(caps.TextDocumentSync, &opts); err != nil {
		return fmt.Errorf("unrecognized textDocumentSync shape: %w", err)
	}
	f.syncKind = opts.Change
	return f.rejectIfNone()
}

func (f *DocumentSync) rejectIfNone() error {
	if f.syncKind == lspclient.TextDocumentSyncKindNone {
		return fmt.Errorf("server declares textDocumentSync kind none")
	}
	return nil
}

// SyncKind reports the negotiated sync kind, decided once CheckServerCapabilities
// has run.
func (f *DocumentSync) SyncKind() lspclient.TextDocumentSyncKind { return f.syncKind }

// Change pushes content changes for an already-open document. callers
// should shape changes as a single full-text replacement when SyncKind()
// is TextDocumentSyncKindFull and as incremental ranges otherwise.
func (f *DocumentSync) Change(ctx context.Context, s *lspclient.Session, uri lspclient.DocumentURI, version int, changes []lspclient.TextDocumentContentChangeEvent) error {
	params := lspclient.DidChangeTextDocumentParams{
		TextDocument: lspclient.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lspclient.TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: changes,
	}
	return s.NotifyDocumentScoped(ctx, []lspclient.DocumentURI{uri}, "textDocument/didChange", params)
}

// Save emits textDocument/didSave for an already-open document.
func (f *DocumentSync) Save(ctx context.Context, s *lspclient.Session, uri lspclient.DocumentURI, text string) error {
	return s.NotifyDocumentScoped(ctx, []lspclient.DocumentURI{uri}, "textDocument/didSave", lspclient.DidSaveTextDocumentParams{
		TextDocument: lspclient.TextDocumentIdentifier{URI: uri},
		Text:         text,
	})
}
