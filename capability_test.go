package lspclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeature struct {
	name     string
	category Category
	fillErr  error
	checkErr error
	filled   bool
	checked  bool
}

func (f *fakeFeature) Name() string       { return f.name }
func (f *fakeFeature) Category() Category { return f.category }
func (f *fakeFeature) FillClientCapabilities(caps *ClientCapabilities) error {
	f.filled = true
	return f.fillErr
}
func (f *fakeFeature) CheckServerCapabilities(caps ServerCapabilities) error {
	f.checked = true
	return f.checkErr
}

func TestCapabilityComposer_FillOrderIsByCategory(t *testing.T) {
	var order []string
	record := func(name string, cat Category) *fakeFeature {
		f := &fakeFeature{name: name, category: cat}
		return f
	}

	window := record("window", CategoryWindow)
	general := record("general", CategoryGeneral)
	workspace := record("workspace", CategoryWorkspace)
	textDoc := record("textDocument", CategoryTextDocument)

	composer := newCapabilityComposer([]Feature{window, general, workspace, textDoc})
	for _, f := range composer.features {
		order = append(order, f.Name())
	}
	assert.Equal(t, []string{"general", "textDocument", "workspace", "window"}, order)
}

func TestCapabilityComposer_PreservesRegistrationOrderWithinCategory(t *testing.T) {
	a := &fakeFeature{name: "a", category: CategoryTextDocument}
	b := &fakeFeature{name: "b", category: CategoryTextDocument}
	composer := newCapabilityComposer([]Feature{b, a})
	assert.Equal(t, "b", composer.features[0].Name())
	assert.Equal(t, "a", composer.features[1].Name())
}

func TestCapabilityComposer_BuildClientCapabilitiesFailsFast(t *testing.T) {
	ok := &fakeFeature{name: "ok", category: CategoryGeneral}
	bad := &fakeFeature{name: "bad", category: CategoryWorkspace, fillErr: fmt.Errorf("boom")}
	composer := newCapabilityComposer([]Feature{ok, bad})

	_, err := composer.buildClientCapabilities()
	require.Error(t, err)
	assert.True(t, ok.filled)
	assert.True(t, bad.filled)
}

func TestCapabilityComposer_ValidateStopsAtFirstRejection(t *testing.T) {
	ok := &fakeFeature{name: "ok", category: CategoryGeneral}
	bad := &fakeFeature{name: "bad", category: CategoryWorkspace, checkErr: fmt.Errorf("unsupported")}
	neverReached := &fakeFeature{name: "never", category: CategoryWindow}
	composer := newCapabilityComposer([]Feature{ok, bad, neverReached})

	_, err := composer.validate(ServerCapabilities{})
	require.Error(t, err)
	var capErr *CapabilityUnsupported
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "bad", capErr.Feature)
	assert.False(t, neverReached.checked)
}

func TestSetRawCapability_RejectsCollision(t *testing.T) {
	m := map[string]RawMessage{}
	require.NoError(t, SetRawCapability(m, "hover", RawMessage(`{}`)))
	err := SetRawCapability(m, "hover", RawMessage(`{}`))
	assert.Error(t, err)
}

func TestProviderSupported(t *testing.T) {
	caps := ServerCapabilities{Raw: map[string]RawMessage{
		"definitionProvider": RawMessage(`true`),
		"hoverProvider":       RawMessage(`false`),
		"completionProvider":  RawMessage(`{"triggerCharacters":["."]}`),
	}}
	assert.True(t, ProviderSupported(caps, "definitionProvider"))
	assert.False(t, ProviderSupported(caps, "hoverProvider"))
	assert.True(t, ProviderSupported(caps, "completionProvider"))
	assert.False(t, ProviderSupported(caps, "renameProvider"))
}
