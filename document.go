package lspclient

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// docSender is the narrow surface documentGuard needs from a binding:
// enough to emit didOpen/didClose notifications. Satisfied by *binding.
type docSender interface {
	Notify(ctx context.Context, method string, params any) error
}

// docEntry is refcounted open state for one URI on one binding. inflight
// tracks scoped operations currently referencing the URI so didClose can
// wait for them before it fires. Once the refcount drops to zero the
// entry is marked closing and stays in the map until its didClose
// notification has actually gone out, so a racing acquire() waits for the
// close to finish instead of opening a fresh entry underneath it.
type docEntry struct {
	uri      DocumentURI
	refcount int
	version  int
	inflight sync.WaitGroup
	closing  bool
	closed   chan struct{}
}

// documentGuard provides reference-counted open/close of text documents
// around scoped operations, exclusively owned by one binding
// (document-scoped requests always route to the same binding, per the
// pool's consistent-hash policy, so a binding-local guard is sufficient —
// no cross-binding refcounting is ever needed).
type documentGuard struct {
	mu         sync.Mutex
	entries    map[DocumentURI]*docEntry
	sender     docSender
	translator PathTranslator // nil unless the binding's Transport supplies one
}

func newDocumentGuard(sender docSender, translator PathTranslator) *documentGuard {
	return &documentGuard{
		entries:    make(map[DocumentURI]*docEntry),
		sender:     sender,
		translator: translator,
	}
}

// WithDocument opens path (reading it from disk if this is the first
// reference), runs body with the resolved URI, and releases the
// reference afterward — closing the document on the server if this was
// the last reference. A path that does not exist fails with
// ErrFileNotFound before any notification is sent.
func (g *documentGuard) WithDocument(ctx context.Context, path, languageID string, body func(ctx context.Context, uri DocumentURI) error) error {
	uri, entry, err := g.acquire(ctx, path, languageID)
	if err != nil {
		return err
	}
	entry.inflight.Add(1)
	bodyErr := func() error {
		defer entry.inflight.Done()
		return body(ctx, uri)
	}()
	// entry.inflight.Done() above has already run by this point, so
	// release()'s Wait() below only ever blocks on *other*, overlapping
	// scoped operations against the same URI, never on this one.
	releaseErr := g.release(ctx, uri)
	if bodyErr != nil {
		return bodyErr
	}
	return releaseErr
}

// WithDocuments is the multi-path form of WithDocument, for operations
// that reference more than one URI in a single scope.
func (g *documentGuard) WithDocuments(ctx context.Context, paths []PathAndLanguage, body func(ctx context.Context, uris []DocumentURI) error) error {
	uris := make([]DocumentURI, 0, len(paths))
	entries := make([]*docEntry, 0, len(paths))

	for i, p := range paths {
		uri, entry, err := g.acquire(ctx, p.Path, p.LanguageID)
		if err != nil {
			// Unwind whatever was already acquired before failing.
			for j := i - 1; j >= 0; j-- {
				_ = g.release(ctx, uris[j])
			}
			return err
		}
		uris = append(uris, uri)
		entries = append(entries, entry)
	}

	for _, e := range entries {
		e.inflight.Add(1)
	}
	bodyErr := func() error {
		defer func() {
			for _, e := range entries {
				e.inflight.Done()
			}
		}()
		return body(ctx, uris)
	}()
	// Every entry's inflight.Done() above has already run, so the
	// release loop's Wait() calls only ever block on other, overlapping
	// scoped operations, never on this one.

	var releaseErr error
	for _, uri := range uris {
		if err := g.release(ctx, uri); err != nil && releaseErr == nil {
			releaseErr = err
		}
	}
	if bodyErr != nil {
		return bodyErr
	}
	return releaseErr
}

// PathAndLanguage names one document to open by WithDocuments: a
// filesystem path plus the languageId to advertise in its didOpen.
type PathAndLanguage struct {
	Path       string
	LanguageID string
}

// acquire increments the refcount for path's URI, reading the file and
// emitting didOpen on a 0->1 transition. If the existing entry for this
// URI is mid-close, acquire waits for that close to finish before
// deciding whether to reuse or recreate the entry, so a closing document
// can never be reopened ahead of its own didClose.
func (g *documentGuard) acquire(ctx context.Context, path, languageID string) (DocumentURI, *docEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrFileNotFound, path, err)
	}
	uri := resolveURI(g.translator, path)

	var entry *docEntry
	var first bool
	for {
		g.mu.Lock()
		existing, ok := g.entries[uri]
		if ok && existing.closing {
			wait := existing.closed
			g.mu.Unlock()
			<-wait
			continue
		}
		if !ok {
			existing = &docEntry{uri: uri}
			g.entries[uri] = existing
		}
		existing.refcount++
		first = existing.refcount == 1
		if first {
			existing.version = 1
		}
		entry = existing
		g.mu.Unlock()
		break
	}

	if first {
		params := DidOpenTextDocumentParams{TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    entry.version,
			Text:       string(content),
		}}
		if err := g.sender.Notify(ctx, "textDocument/didOpen", params); err != nil {
			g.mu.Lock()
			entry.refcount--
			if entry.refcount == 0 {
				delete(g.entries, uri)
			}
			g.mu.Unlock()
			return "", nil, err
		}
	}
	return uri, entry, nil
}

// release decrements the refcount for uri, waiting for any other scoped
// operation still referencing it and emitting didClose on a 1->0
// transition. The entry stays in the map, marked closing, until the
// didClose notification has gone out, so a concurrent acquire() for the
// same URI waits for the close instead of racing a new didOpen ahead of
// it; see acquire.
func (g *documentGuard) release(ctx context.Context, uri DocumentURI) error {
	g.mu.Lock()
	entry, ok := g.entries[uri]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	entry.refcount--
	last := entry.refcount == 0
	if last {
		entry.closing = true
		entry.closed = make(chan struct{})
	}
	g.mu.Unlock()

	if !last {
		return nil
	}

	// The caller's own reference was released via defer before this call
	// runs (WithDocument/WithDocuments), so inflight.Wait only blocks on
	// *other*, overlapping scoped operations against the same URI.
	entry.inflight.Wait()

	err := g.sender.Notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})

	g.mu.Lock()
	delete(g.entries, uri)
	g.mu.Unlock()
	close(entry.closed)

	return err
}
