// Package procmanager implements the global registry mapping an engine
// identifier to either a still-starting runner or a live dispatcher, and
// routes client operations to the right one.
package procmanager

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/evalgw/internal/builder"
	"github.com/oriys/evalgw/internal/config"
	"github.com/oriys/evalgw/internal/dispatcher"
	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/logging"
	"github.com/oriys/evalgw/internal/metrics"
	"github.com/oriys/evalgw/internal/ownership"
	"github.com/oriys/evalgw/internal/runner"
)

type phase int

const (
	phaseStarting phase = iota
	phaseActive
)

type entry struct {
	phase      phase
	cancel     context.CancelFunc
	dispatcher *dispatcher.Dispatcher
}

// Manager is the process-wide registry of engines. A package-level
// default instance is acceptable per the design notes this gateway
// follows, but its lifecycle is always explicit: callers construct one
// with New and pass it to handlers rather than reaching for a global.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg      *config.Settings
	builders *builder.Registry
	metrics  *metrics.Metrics
	reqLog   *logging.Logger
	owner    *ownership.Hint // nil unless Cluster.Enabled
}

// StartResult is returned on a successful `start`.
type StartResult struct {
	Identifier string
	Memory     uint64
}

// New constructs a Manager bound to the given settings and builder
// registry. When cfg.Cluster.Enabled, a Redis-backed ownership hint is
// claimed for every engine this instance starts, so a sibling instance
// sharing the same Redis refuses a Start for that identifier with
// "running". Only Start consults the hint; every other operation looks
// at the local registry alone.
func New(cfg *config.Settings, builders *builder.Registry, m *metrics.Metrics, reqLog *logging.Logger) *Manager {
	mgr := &Manager{
		entries:  make(map[string]*entry),
		cfg:      cfg,
		builders: builders,
		metrics:  m,
		reqLog:   reqLog,
	}
	if cfg != nil && cfg.Cluster.Enabled && cfg.Cluster.RedisDSN != "" {
		mgr.owner = ownership.New(cfg.Cluster.RedisDSN, instanceID(cfg), 30*time.Second)
	}
	return mgr
}

// instanceID derives this gateway's self-identifier for ownership
// claims from its configured HTTP address, falling back to the
// process's hostname when no address is set (e.g. under test).
func instanceID(cfg *config.Settings) string {
	if cfg.Daemon.HTTPAddr != "" {
		return cfg.Daemon.HTTPAddr
	}
	host, err := os.Hostname()
	if err != nil {
		return "gateway"
	}
	return host
}

// Start resolves or mints an identifier and spawns its engine. It
// mirrors ProcessManager.start: an identifier already in the registry
// fails with "starting", "died" (evicting the dead entry), or "running"
// depending on its current phase — it never restarts a call in place.
func (m *Manager) Start(identifier string, args runner.EngineArgs) (StartResult, error) {
	if identifier == "" {
		identifier = uuid.NewString()
	}

	m.mu.Lock()
	if e, ok := m.entries[identifier]; ok {
		switch {
		case e.phase == phaseStarting:
			m.mu.Unlock()
			return StartResult{}, errors.New(engine.ReasonStarting)
		case e.dispatcher.State() == engine.StateDead:
			delete(m.entries, identifier)
			m.mu.Unlock()
			return StartResult{}, errors.New(engine.ReasonDied)
		default:
			m.mu.Unlock()
			return StartResult{}, errors.New(engine.ReasonRunning)
		}
	}

	m.mu.Unlock()

	if m.owner != nil {
		if local, err := m.owner.IsLocal(context.Background(), identifier); err == nil && !local {
			return StartResult{}, errors.New(engine.ReasonRunning)
		}
	}

	m.mu.Lock()
	startCtx, cancel := context.WithCancel(context.Background())
	e := &entry{phase: phaseStarting, cancel: cancel}
	m.entries[identifier] = e
	m.mu.Unlock()

	opts := runner.Options{
		DataPath:      m.cfg.DataPath,
		EngineTimeout: m.cfg.EngineTimeout,
		EnvironAll:    m.cfg.EnvironAll,
		EnvironPass:   m.cfg.EnvironPass,
		EnvironSet:    m.cfg.EnvironSet,
		PythonPath:    m.cfg.PythonPath,
		Builders:      m.builders,
		Metrics:       m.metrics,
	}

	started, err := runner.Start(startCtx, identifier, args, opts)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, identifier)
		m.mu.Unlock()
		return StartResult{}, err
	}

	d := dispatcher.New(started.Descriptor, started.Stdout, started.Stderr,
		dispatcher.Options{
			EvaluateTimeout: m.cfg.EvaluateTimeout,
			Metrics:         m.metrics,
			RequestLog:      m.reqLog,
		},
		dispatcher.Callbacks{
			OnRemove: func() {
				m.mu.Lock()
				delete(m.entries, identifier)
				m.mu.Unlock()
			},
		},
	)

	m.mu.Lock()
	e.phase = phaseActive
	e.dispatcher = d
	m.mu.Unlock()

	if m.owner != nil {
		if err := m.owner.Claim(context.Background(), identifier); err != nil {
			logging.Op().Warn("ownership claim failed", "identifier", identifier, "error", err)
		}
	}

	return StartResult{Identifier: identifier, Memory: started.Memory}, nil
}

// Stop terminates an engine. A stop while the runner is still starting
// replies immediately (the runner's own cleanup happens independently);
// a stop against a dead engine evicts it and fails with "died"; a stop
// against a live dispatcher blocks until the child is reaped.
func (m *Manager) Stop(identifier string) (string, error) {
	m.mu.Lock()
	e, ok := m.entries[identifier]
	if !ok {
		m.mu.Unlock()
		return "", errors.New(engine.ReasonDoesNotExist)
	}
	if e.phase == phaseStarting {
		m.mu.Unlock()
		e.cancel()
		return engine.ReasonTerminated, nil
	}
	if e.dispatcher.State() == engine.StateDead {
		delete(m.entries, identifier)
		m.mu.Unlock()
		return "", errors.New(engine.ReasonDied)
	}
	m.mu.Unlock()

	okayCh := make(chan string, 1)
	failCh := make(chan string, 1)
	e.dispatcher.Stop(func(s string) { okayCh <- s }, func(s string) { failCh <- s })

	select {
	case s := <-okayCh:
		if m.owner != nil {
			m.owner.Release(context.Background(), identifier)
		}
		return s, nil
	case s := <-failCh:
		return "", errors.New(s)
	}
}

// Stat returns the CPU/memory snapshot for a live engine.
func (m *Manager) Stat(identifier string) (engine.Stat, error) {
	e, err := m.active(identifier)
	if err != nil {
		return engine.Stat{}, err
	}
	return e.dispatcher.Stat()
}

// Complete dispatches a completion request and blocks for its result.
func (m *Manager) Complete(identifier, source string) (engine.Result, error) {
	e, err := m.active(identifier)
	if err != nil {
		return engine.Result{}, err
	}
	return await(func(onResult func(engine.Result), onError func(string)) {
		e.dispatcher.Complete(source, onResult, onError)
	})
}

// Evaluate dispatches an evaluation request and blocks for its result.
func (m *Manager) Evaluate(identifier, source, cellID string) (engine.Result, error) {
	e, err := m.active(identifier)
	if err != nil {
		return engine.Result{}, err
	}
	return await(func(onResult func(engine.Result), onError func(string)) {
		e.dispatcher.Evaluate(source, cellID, onResult, onError)
	})
}

// Interrupt cancels a queued or in-flight call on a live engine.
func (m *Manager) Interrupt(identifier, cellID string) (string, error) {
	e, err := m.active(identifier)
	if err != nil {
		return "", err
	}
	return e.dispatcher.Interrupt(cellID), nil
}

// KillAll force-kills every READY engine and cancels every engine still
// starting; used on service shutdown. Engines with a call in flight or a
// stop in progress are not killed (Dispatcher.Kill acts only on READY).
func (m *Manager) KillAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.phase == phaseActive {
			e.dispatcher.Kill()
		} else {
			e.cancel()
		}
	}
}

// Stats returns a process-local introspection snapshot: counts by
// phase and, for each live engine, its current state. Used by the
// optional control-plane gRPC surface; it reports what this instance
// holds, not a cluster-wide view.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	starting, active := 0, 0
	engines := make(map[string]any, len(m.entries))
	for id, e := range m.entries {
		if e.phase == phaseStarting {
			starting++
			engines[id] = "starting"
			continue
		}
		active++
		engines[id] = e.dispatcher.State().String()
	}

	return map[string]any{
		"starting": float64(starting),
		"active":   float64(active),
		"engines":  engines,
	}
}

// active resolves an identifier to its dispatcher, applying the shared
// does-not-exist / starting / died eviction logic used by every entry
// point but `start` and `stop` (Stop answers a starting entry with
// "terminated" and checks does-not-exist / died itself).
func (m *Manager) active(identifier string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[identifier]
	if !ok {
		return nil, errors.New(engine.ReasonDoesNotExist)
	}
	if e.phase == phaseStarting {
		return nil, errors.New(engine.ReasonStarting)
	}
	if e.dispatcher.State() == engine.StateDead {
		delete(m.entries, identifier)
		return nil, errors.New(engine.ReasonDied)
	}
	return e, nil
}

// await adapts the dispatcher's continuation-passing calls into a
// synchronous return, the shape the client-facing RPC handlers want.
func await(call func(onResult func(engine.Result), onError func(string))) (engine.Result, error) {
	resultCh := make(chan engine.Result, 1)
	errCh := make(chan string, 1)
	call(func(r engine.Result) { resultCh <- r }, func(reason string) { errCh <- reason })

	select {
	case r := <-resultCh:
		return r, nil
	case reason := <-errCh:
		return engine.Result{}, errors.New(reason)
	}
}
