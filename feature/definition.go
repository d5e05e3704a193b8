package feature

import (
	"context"
	"fmt"

	lspclient "github.com/observerw/lsp-client-go"
)

// Definition is the textDocument/definition feature (LSP 3.17 §3.17.6),
// split into a capability fragment (this type) and a thin Go method
// issuing the request; the Capability Composer owns the fill/check steps.
type Definition struct{}

// NewDefinition returns a ready-to-use Definition feature.
func NewDefinition() *Definition { return &Definition{} }

func (f *Definition) Name() string                 { return "textDocument/definition" }
func (f *Definition) Category() lspclient.Category { return lspclient.CategoryTextDocument }

func (f *Definition) FillClientCapabilities(caps *lspclient.ClientCapabilities) error {
	if caps.TextDocument == nil {
		caps.TextDocument = &lspclient.TextDocumentClientCaps{}
	}
	if caps.TextDocument.Raw == nil {
		caps.TextDocument.Raw = map[string]lspclient.RawMessage{}
	}
	return lspclient.SetRawCapability(caps.TextDocument.Raw, "definition", lspclient.RawMessage(`{"linkSupport":true}`))
}

func (f *Definition) CheckServerCapabilities(caps lspclient.ServerCapabilities) error {
	if !lspclient.ProviderSupported(caps, "definitionProvider") {
		return fmt.Errorf("server does not advertise definitionProvider")
	}
	return nil
}

// Go requests the definition location(s) of the symbol at pos in uri, a
// document that must already be open (see lspclient.Session.WithDocument).
func (f *Definition) Go(ctx context.Context, s *lspclient.Session, uri lspclient.DocumentURI, pos lspclient.Position) ([]lspclient.Location, error) {
	params := lspclient.TextDocumentPositionParams{
		TextDocument: lspclient.TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
	var raw lspclient.RawMessage
	if err := s.CallDocumentScoped(ctx, []lspclient.DocumentURI{uri}, "textDocument/definition", params, &raw); err != nil {
		return nil, err
	}
	return parseLocationResult(raw)
}
