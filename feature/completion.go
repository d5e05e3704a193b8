package feature

import (
	"context"
	"encoding/json"
	"fmt"

	lspclient "github.com/observerw/lsp-client-go"
)

// Completion is the textDocument/completion feature (LSP 3.17 §3.17.8).
// The result may be a bare CompletionItem array or a CompletionList
// wrapper; parseCompletionResult handles both shapes.
type Completion struct {
	// No configuration: At always sends an invoked (not
	// trigger-character-driven) completion request.
}

func NewCompletion() *Completion { return &Completion{} }

func (f *Completion) Name() string                 { return "textDocument/completion" }
func (f *Completion) Category() lspclient.Category { return lspclient.CategoryTextDocument }

func (f *Completion) FillClientCapabilities(caps *lspclient.ClientCapabilities) error {
	if caps.TextDocument == nil {
		caps.TextDocument = &lspclient.TextDocumentClientCaps{}
	}
	if caps.TextDocument.Raw == nil {
		caps.TextDocument.Raw = map[string]lspclient.RawMessage{}
	}
	return lspclient.SetRawCapability(caps.TextDocument.Raw, "completion",
		lspclient.RawMessage(`{"completionItem":{"snippetSupport":false},"contextSupport":true}`))
}

func (f *Completion) CheckServerCapabilities(caps lspclient.ServerCapabilities) error {
	if !lspclient.ProviderSupported(caps, "completionProvider") {
		return fmt.Errorf("server does not advertise completionProvider")
	}
	return nil
}

// CompletionTriggerKind mirrors LSP's completion trigger kind enum.
type CompletionTriggerKind int

const (
	CompletionTriggerKindInvoked CompletionTriggerKind = iota + 1
	CompletionTriggerKindTriggerCharacter
	CompletionTriggerKindIncompleteCompletion
)

// CompletionContext carries how a completion request was triggered.
type CompletionContext struct {
	TriggerKind      CompletionTriggerKind `json:"triggerKind"`
	TriggerCharacter string                `json:"triggerCharacter,omitempty"`
}

type completionParams struct {
	lspclient.TextDocumentPositionParams
	Context *CompletionContext `json:"context,omitempty"`
}

// CompletionItem is one candidate returned by the server.
type CompletionItem struct {
	Label         string `json:"label"`
	Kind          int    `json:"kind,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Documentation any    `json:"documentation,omitempty"`
	InsertText    string `json:"insertText,omitempty"`
}

// CompletionList is the normalized result shape this feature returns,
// regardless of whether the server replied with a bare array or the
// {isIncomplete, items} wrapper.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// At requests completion candidates at pos in uri.
func (f *Completion) At(ctx context.Context, s *lspclient.Session, uri lspclient.DocumentURI, pos lspclient.Position) (*CompletionList, error) {
	params := completionParams{
		TextDocumentPositionParams: lspclient.TextDocumentPositionParams{
			TextDocument: lspclient.TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		Context: &CompletionContext{TriggerKind: CompletionTriggerKindInvoked},
	}
	var raw lspclient.RawMessage
	if err := s.CallDocumentScoped(ctx, []lspclient.DocumentURI{uri}, "textDocument/completion", params, &raw); err != nil {
		return nil, err
	}
	return parseCompletionResult(raw)
}

func parseCompletionResult(data lspclient.RawMessage) (*CompletionList, error) {
	if len(data) == 0 || string(data) == "null" {
		return &CompletionList{}, nil
	}

	var list CompletionList
	if err := json.Unmarshal(data, &list); err == nil && (list.Items != nil || list.IsIncomplete) {
		return &list, nil
	}

	var items []CompletionItem
	if err := json.Unmarshal(data, &items); err == nil {
		return &CompletionList{Items: items}, nil
	}

	return nil, fmt.Errorf("lspclient/feature: unrecognized completion result shape")
}
