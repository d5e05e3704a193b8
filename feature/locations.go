// Package feature holds concrete Feature implementations built on top of
// the protocol engine's exported surface: lspclient.Feature,
// lspclient.RequestBinder/NotificationBinder, and the Binding handle.
// None of these are required by a Session — callers assemble whichever
// subset they need via lspclient.WithFeatures.
package feature

import (
	"encoding/json"
	"fmt"

	lspclient "github.com/observerw/lsp-client-go"
)

// parseLocationResult decodes a textDocument/definition- or
// textDocument/typeDefinition-shaped result, which LSP allows to be a
// single Location, an array of Location, or an array of LocationLink.
// LocationLink's extra fields are skipped since callers only need the
// target location, not the origin-selection highlighting.
func parseLocationResult(data lspclient.RawMessage) ([]lspclient.Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var single lspclient.Location
	if err := json.Unmarshal(data, &single); err == nil && single.URI != "" {
		return []lspclient.Location{single}, nil
	}

	var many []lspclient.Location
	if err := json.Unmarshal(data, &many); err == nil && (len(many) == 0 || many[0].URI != "") {
		return many, nil
	}

	var links []locationLink
	if err := json.Unmarshal(data, &links); err == nil {
		out := make([]lspclient.Location, len(links))
		for i, l := range links {
			out[i] = lspclient.Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
		}
		return out, nil
	}

	return nil, fmt.Errorf("lspclient/feature: unrecognized location result shape")
}

type locationLink struct {
	TargetURI            lspclient.DocumentURI `json:"targetUri"`
	TargetRange          lspclient.Range       `json:"targetRange"`
	TargetSelectionRange lspclient.Range       `json:"targetSelectionRange"`
}
