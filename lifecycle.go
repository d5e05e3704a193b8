package lspclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState is the Lifecycle Controller's state machine.
type SessionState int32

const (
	StateConstructed SessionState = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// shutdownDrainTimeout bounds how long shutdown waits for in-flight
// requests to finish before sending shutdown/exit regardless.
const shutdownDrainTimeout = 5 * time.Second

// lifecycleController drives one Session through constructed ->
// initializing -> running -> shutting-down -> terminated, sequencing the
// initialize/initialized handshake per binding and the shutdown/exit
// handshake on the way out, validating server capabilities against every
// attached feature before exposing a binding to callers.
type lifecycleController struct {
	mu    sync.Mutex
	state atomic.Int32

	composer *capabilityComposer
	pool     *Pool
	config   *ConfigStore
	log      fieldLogger

	initParams func() InitializeParams
}

func newLifecycleController(composer *capabilityComposer, pool *Pool, config *ConfigStore, log fieldLogger, initParams func() InitializeParams) *lifecycleController {
	lc := &lifecycleController{composer: composer, pool: pool, config: config, log: log, initParams: initParams}
	lc.state.Store(int32(StateConstructed))
	return lc
}

func (lc *lifecycleController) State() SessionState {
	return SessionState(lc.state.Load())
}

func (lc *lifecycleController) setState(s SessionState) {
	lc.state.Store(int32(s))
}

// start runs the handshake for every member of the pool: send initialize,
// validate server capabilities against every attached feature, bind the
// features that passed, freeze the handler registry, send initialized.
// Any binding's failure fails the whole session.
func (lc *lifecycleController) start(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.State() != StateConstructed {
		return ErrAlreadyRunning
	}
	lc.setState(StateInitializing)

	clientCaps, err := lc.composer.buildClientCapabilities()
	if err != nil {
		lc.setState(StateTerminated)
		return err
	}

	for _, m := range lc.pool.Live() {
		if err := lc.initializeMember(ctx, m, clientCaps); err != nil {
			lc.setState(StateTerminated)
			return fmt.Errorf("binding %q: %w", m.name, err)
		}
	}

	lc.setState(StateRunning)
	return nil
}

func (lc *lifecycleController) initializeMember(ctx context.Context, m *poolMember, clientCaps ClientCapabilities) error {
	params := InitializeParams{Capabilities: clientCaps}
	if lc.initParams != nil {
		params = lc.initParams()
		params.Capabilities = clientCaps
	}

	var result InitializeResult
	if err := m.b.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	validated, err := lc.composer.validate(result.Capabilities)
	if err != nil {
		return err
	}
	if err := bindFeatures(validated, m.b); err != nil {
		return fmt.Errorf("bind features: %w", err)
	}
	if lc.config != nil {
		if err := m.b.OnRequest("workspace/configuration", lc.config.handleConfigurationRequest); err != nil {
			return fmt.Errorf("bind workspace/configuration: %w", err)
		}
	}
	m.b.freezeHandlers()

	if err := m.b.Notify(ctx, "initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// shutdown transitions running -> shutting-down -> terminated: it refuses
// new work (callers check State() before routing), waits up to
// shutdownDrainTimeout for each binding's in-flight window to empty, then
// sends shutdown+exit and closes every binding.
func (lc *lifecycleController) shutdown(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.State() == StateTerminated {
		return nil
	}
	lc.setState(StateShuttingDown)

	members := lc.pool.Live()
	for _, m := range members {
		lc.drainMember(m)
		lc.shutdownMember(ctx, m)
	}

	lc.setState(StateTerminated)
	return lc.pool.Close()
}

func (lc *lifecycleController) drainMember(m *poolMember) {
	deadline := time.Now().Add(shutdownDrainTimeout)
	for m.outstanding() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func (lc *lifecycleController) shutdownMember(ctx context.Context, m *poolMember) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	defer cancel()

	if err := m.b.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
		lc.log.binding(m.name).WithError(err).Warn("shutdown request failed, proceeding to exit")
	}
	if err := m.b.Notify(shutdownCtx, "exit", nil); err != nil {
		lc.log.binding(m.name).WithError(err).Warn("exit notification failed")
	}
}
