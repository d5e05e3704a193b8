package feature

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	lspclient "github.com/observerw/lsp-client-go"
)

// FileChangeType mirrors LSP's FileChangeType enum.
type FileChangeType int

const (
	FileChangeCreated FileChangeType = iota + 1
	FileChangeChanged
	FileChangeDeleted
)

// FileEvent is one entry of workspace/didChangeWatchedFiles's changes
// array.
type FileEvent struct {
	URI  lspclient.DocumentURI `json:"uri"`
	Type FileChangeType        `json:"type"`
}

type didChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

type registrationParams struct {
	Registrations []registration `json:"registrations"`
}

type registration struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

// WatchedFiles is the workspace/didChangeWatchedFiles feature: it declares
// dynamic-registration support for file watching, and once the server
// actually registers for it via client/registerCapability, starts an
// fsnotify watch over the workspace root and forwards filesystem events
// as LSP notifications.
type WatchedFiles struct {
	root string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatchedFiles returns a feature that will watch root once the server
// registers for workspace/didChangeWatchedFiles.
func NewWatchedFiles(root string) *WatchedFiles {
	return &WatchedFiles{root: root}
}

func (f *WatchedFiles) Name() string                 { return "workspace/didChangeWatchedFiles" }
func (f *WatchedFiles) Category() lspclient.Category { return lspclient.CategoryWorkspace }

func (f *WatchedFiles) FillClientCapabilities(caps *lspclient.ClientCapabilities) error {
	if caps.Workspace == nil {
		caps.Workspace = &lspclient.WorkspaceClientCapabilities{}
	}
	caps.Workspace.DidChangeWatchedFiles = &lspclient.DynamicRegistrationCaps{DynamicRegistration: true}
	return nil
}

// CheckServerCapabilities always passes: this feature activates on the
// server's runtime client/registerCapability request, not on a static
// initialize-time capability flag.
func (f *WatchedFiles) CheckServerCapabilities(lspclient.ServerCapabilities) error { return nil }

func (f *WatchedFiles) BindRequests(b *lspclient.Binding) error {
	return b.OnRequest("client/registerCapability", func(ctx context.Context, params json.RawMessage) (any, *lspclient.RPCError) {
		var reg registrationParams
		if err := json.Unmarshal(params, &reg); err != nil {
			return nil, &lspclient.RPCError{Code: lspclient.CodeInvalidParams, Message: err.Error()}
		}
		for _, r := range reg.Registrations {
			if r.Method != "workspace/didChangeWatchedFiles" {
				continue
			}
			if err := f.startWatching(b); err != nil {
				return nil, &lspclient.RPCError{Code: lspclient.CodeInternalError, Message: err.Error()}
			}
		}
		return nil, nil
	})
}

func (f *WatchedFiles) startWatching(b *lspclient.Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := filepath.WalkDir(f.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(p); addErr != nil {
				return nil
			}
		}
		return nil
	}); err != nil {
		_ = w.Close()
		return err
	}

	f.watcher = w
	go f.forward(b, w)
	return nil
}

func (f *WatchedFiles) forward(b *lspclient.Binding, w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			ct, ok := changeType(ev.Op)
			if !ok {
				continue
			}
			event := FileEvent{URI: lspclient.FilePathToURI(ev.Name), Type: ct}
			_ = b.Notify(context.Background(), "workspace/didChangeWatchedFiles", didChangeWatchedFilesParams{Changes: []FileEvent{event}})

			if ct == FileChangeCreated {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func changeType(op fsnotify.Op) (FileChangeType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return FileChangeCreated, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return FileChangeDeleted, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return FileChangeChanged, true
	default:
		return 0, false
	}
}
