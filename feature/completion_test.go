package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lspclient "github.com/observerw/lsp-client-go"
)

func TestCompletion_FillClientCapabilitiesSetsRawKey(t *testing.T) {
	f := NewCompletion()
	var caps lspclient.ClientCapabilities
	require.NoError(t, f.FillClientCapabilities(&caps))
	require.NotNil(t, caps.TextDocument)
	assert.Contains(t, caps.TextDocument.Raw, "completion")
}

func TestCompletion_CheckServerCapabilitiesRequiresProvider(t *testing.T) {
	f := NewCompletion()
	err := f.CheckServerCapabilities(lspclient.ServerCapabilities{})
	assert.Error(t, err)

	ok := lspclient.ServerCapabilities{Raw: map[string]lspclient.RawMessage{
		"completionProvider": lspclient.RawMessage(`{}`),
	}}
	assert.NoError(t, f.CheckServerCapabilities(ok))
}

func TestParseCompletionResult_BareItemArray(t *testing.T) {
	data := lspclient.RawMessage(`[{"label":"foo"},{"label":"bar"}]`)
	list, err := parseCompletionResult(data)
	require.NoError(t, err)
	assert.False(t, list.IsIncomplete)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "bar", list.Items[1].Label)
}

func TestParseCompletionResult_CompletionListWrapper(t *testing.T) {
	data := lspclient.RawMessage(`{"isIncomplete":true,"items":[{"label":"foo"}]}`)
	list, err := parseCompletionResult(data)
	require.NoError(t, err)
	assert.True(t, list.IsIncomplete)
	require.Len(t, list.Items, 1)
}

func TestParseCompletionResult_NullResult(t *testing.T) {
	list, err := parseCompletionResult(lspclient.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestParseCompletionResult_UnrecognizedShape(t *testing.T) {
	_, err := parseCompletionResult(lspclient.RawMessage(`"oops"`))
	assert.Error(t, err)
}
