package feature

import (
	"context"
	"fmt"

	lspclient "github.com/observerw/lsp-client-go"
)

// Hover is the textDocument/hover feature (LSP 3.17 §3.17.4).
type Hover struct{}

func NewHover() *Hover { return &Hover{} }

func (f *Hover) Name() string                 { return "textDocument/hover" }
func (f *Hover) Category() lspclient.Category { return lspclient.CategoryTextDocument }

func (f *Hover) FillClientCapabilities(caps *lspclient.ClientCapabilities) error {
	if caps.TextDocument == nil {
		caps.TextDocument = &lspclient.TextDocumentClientCaps{}
	}
	if caps.TextDocument.Raw == nil {
		caps.TextDocument.Raw = map[string]lspclient.RawMessage{}
	}
	return lspclient.SetRawCapability(caps.TextDocument.Raw, "hover", lspclient.RawMessage(`{"contentFormat":["markdown","plaintext"]}`))
}

func (f *Hover) CheckServerCapabilities(caps lspclient.ServerCapabilities) error {
	if !lspclient.ProviderSupported(caps, "hoverProvider") {
		return fmt.Errorf("server does not advertise hoverProvider")
	}
	return nil
}

// HoverResult is the result of a textDocument/hover request. Contents is
// left as json.RawMessage-compatible `any` since LSP allows it to be a
// MarkupContent, a MarkedString, or an array of MarkedString, and this
// module does not attempt to normalize between protocol versions.
type HoverResult struct {
	Contents any             `json:"contents"`
	Range    *lspclient.Range `json:"range,omitempty"`
}

// At requests hover information for the symbol at pos in uri.
func (f *Hover) At(ctx context.Context, s *lspclient.Session, uri lspclient.DocumentURI, pos lspclient.Position) (*HoverResult, error) {
	params := lspclient.TextDocumentPositionParams{
		TextDocument: lspclient.TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
	var result *HoverResult
	if err := s.CallDocumentScoped(ctx, []lspclient.DocumentURI{uri}, "textDocument/hover", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
