package lspclient

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
)

// Transport is something that can start a duplex byte stream to a
// language server and forcibly kill it.
// ProcessTransport (processtransport.go) is the one concrete
// implementation this module ships; callers may supply their own (a TCP
// or container transport) by implementing the same two methods, and
// optionally PathTranslator.
type Transport interface {
	// Start asynchronously brings the connection up and returns the
	// reader/writer pair the binding will frame messages over.
	Start(ctx context.Context) (io.Reader, io.Writer, error)
	// Kill idempotently and forcibly terminates the connection.
	Kill() error
}

var validate = validator.New()

// SessionConfig configures a Session. Validated with
// github.com/go-playground/validator/v10 so a misconfigured caller fails
// fast at NewSession rather than with an obscure error mid-handshake.
type SessionConfig struct {
	RootPath              string            `validate:"required"`
	WorkspaceFolders      []WorkspaceFolder `validate:"omitempty,dive"`
	Features              []Feature         `validate:"required,min=1"`
	InitializationOptions any
	Logger                Logger
}

// SessionOption configures a Session at construction.
type SessionOption func(*SessionConfig)

func WithRootPath(path string) SessionOption {
	return func(c *SessionConfig) { c.RootPath = path }
}

func WithWorkspaceFolders(folders ...WorkspaceFolder) SessionOption {
	return func(c *SessionConfig) { c.WorkspaceFolders = folders }
}

func WithFeatures(features ...Feature) SessionOption {
	return func(c *SessionConfig) { c.Features = features }
}

func WithInitializationOptions(opts any) SessionOption {
	return func(c *SessionConfig) { c.InitializationOptions = opts }
}

func WithLogger(l Logger) SessionOption {
	return func(c *SessionConfig) { c.Logger = l }
}

// Session is the scoped resource over one or more bindings (a Pool), a
// Configuration Store shared across them, and the Lifecycle Controller
// driving them through initialize/shutdown.
type Session struct {
	cfg       SessionConfig
	pool      *Pool
	config    *ConfigStore
	composer  *capabilityComposer
	lifecycle *lifecycleController
	log       fieldLogger
}

// NewSession constructs and starts a Session over one Transport per
// desired pool member (len(transports) == pool size). It blocks until
// every binding has completed the initialize/initialized handshake, or
// returns an error if any of them failed to — a binding that fails to
// initialize fails the whole session.
func NewSession(ctx context.Context, transports []Transport, opts ...SessionOption) (*Session, error) {
	if len(transports) == 0 {
		return nil, ErrNoBindings
	}

	cfg := SessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("lspclient: invalid session config: %w", err)
	}

	log := newFieldLogger(cfg.Logger)

	members := make([]*poolMember, 0, len(transports))
	for i, t := range transports {
		m, err := startMember(ctx, fmt.Sprintf("binding-%d", i), t, log)
		if err != nil {
			for _, started := range members {
				_ = started.b.close()
			}
			return nil, fmt.Errorf("lspclient: start binding %d: %w", i, err)
		}
		members = append(members, m)
	}

	pool := newPool(members, log)
	composer := newCapabilityComposer(cfg.Features)
	config := newConfigStore(pool, log)

	s := &Session{
		cfg:      cfg,
		pool:     pool,
		config:   config,
		composer: composer,
		log:      log,
	}
	s.lifecycle = newLifecycleController(composer, pool, config, log, s.buildInitializeParams)

	if err := s.lifecycle.start(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

func startMember(ctx context.Context, name string, t Transport, log fieldLogger) (*poolMember, error) {
	r, w, err := t.Start(ctx)
	if err != nil {
		return nil, err
	}
	b := newBinding(name, r, w, transportCloser{t}, log)
	b.start()

	var translator PathTranslator
	if pt, ok := t.(PathTranslator); ok {
		translator = pt
	}
	docs := newDocumentGuard(b, translator)

	return newPoolMember(name, b, docs, defaultMaxInFlight), nil
}

// transportCloser adapts Transport.Kill to io.Closer so binding.terminate
// can close the underlying connection without knowing about Transport.
type transportCloser struct{ t Transport }

func (c transportCloser) Close() error { return c.t.Kill() }

func (s *Session) buildInitializeParams() InitializeParams {
	return InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               FilePathToURI(s.cfg.RootPath),
		WorkspaceFolders:      s.cfg.WorkspaceFolders,
		InitializationOptions: s.cfg.InitializationOptions,
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState { return s.lifecycle.State() }

// Config exposes the Configuration Store.
func (s *Session) Config() *ConfigStore { return s.config }

// Shutdown drives the session through shutting-down -> terminated,
// sending shutdown/exit to every binding and releasing their connections.
// Safe to call more than once.
func (s *Session) Shutdown(ctx context.Context) error {
	return s.lifecycle.shutdown(ctx)
}

// RunSession constructs a Session, runs body, and guarantees Shutdown
// runs on every exit path (including a panic unwinding through body).
func RunSession(ctx context.Context, transports []Transport, body func(ctx context.Context, s *Session) error, opts ...SessionOption) error {
	s, err := NewSession(ctx, transports, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = s.Shutdown(ctx) }()
	return body(ctx, s)
}

// ensureRunning rejects new work once the session has left the running
// state.
func (s *Session) ensureRunning() error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	return nil
}

// CallDocumentScoped routes method to the binding consistently owning
// uris and waits for its response.
func (s *Session) CallDocumentScoped(ctx context.Context, uris []DocumentURI, method string, params, result any) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	return s.pool.CallDocumentScoped(ctx, uris, method, params, result)
}

// CallWorkspaceScoped routes method to whichever live binding currently
// has the fewest outstanding requests.
func (s *Session) CallWorkspaceScoped(ctx context.Context, method string, params, result any) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	return s.pool.CallWorkspaceScoped(ctx, method, params, result)
}

// NotifyDocumentScoped sends method to the binding consistently owning
// uris — the binding that holds those documents open — without waiting
// for a response.
func (s *Session) NotifyDocumentScoped(ctx context.Context, uris []DocumentURI, method string, params any) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	return s.pool.NotifyDocumentScoped(ctx, uris, method, params)
}

// Broadcast sends method as a notification to every live binding.
func (s *Session) Broadcast(ctx context.Context, method string, params any) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	return s.pool.Broadcast(ctx, method, params)
}

// WithDocument opens path on the binding that will own it (by consistent
// hash), runs body, and closes it again through the Document Sync Guard.
// The routing key is the untranslated file:// form of path, kept stable
// across calls even if the owning binding's own Transport applies a
// PathTranslator for the wire URI it actually emits.
func (s *Session) WithDocument(ctx context.Context, path, languageID string, body func(ctx context.Context, uri DocumentURI) error) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	m, err := s.pool.MemberForDocuments([]DocumentURI{FilePathToURI(path)})
	if err != nil {
		return err
	}
	return m.docs.WithDocument(ctx, path, languageID, body)
}

// WithDocuments is the multi-path form of WithDocument.
func (s *Session) WithDocuments(ctx context.Context, paths []PathAndLanguage, body func(ctx context.Context, uris []DocumentURI) error) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}
	keys := make([]DocumentURI, len(paths))
	for i, p := range paths {
		keys[i] = FilePathToURI(p.Path)
	}
	m, err := s.pool.MemberForDocuments(keys)
	if err != nil {
		return err
	}
	return m.docs.WithDocuments(ctx, paths, body)
}
