package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

// Logger is the logging interface used by the session manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegistrySource provides the current registry snapshot.
type RegistrySource interface {
	Current() *fleet.Registry
}

// Observer receives session lifecycle measurements. It may be nil.
type Observer interface {
	ObserveConnect(deviceID string, reused bool, err error, elapsed time.Duration)
	ObserveRelease(deviceID string)
}

// Default timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	// ConnectTimeout bounds opening a session plus loading its surface,
	// and separately bounds a reload of an existing session.
	ConnectTimeout time.Duration

	// ProbeTimeout bounds one IsAlive probe.
	ProbeTimeout time.Duration
}

// Session is the opaque handle returned by EnsureSession.
type Session struct {
	deviceID    string
	conn        Conn
	connectedAt time.Time
	reused      bool
}

// DeviceID returns the id of the device this session belongs to.
func (s *Session) DeviceID() string { return s.deviceID }

// ConnectedAt returns when the underlying session was opened.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Reused reports whether EnsureSession kept an existing session.
func (s *Session) Reused() bool { return s.reused }

// Surface returns the control surface for executing commands.
func (s *Session) Surface() fleet.Surface { return s.conn }

type entry struct {
	dev         fleet.Device
	conn        Conn
	connectedAt time.Time
}

// Manager owns at most one live session per device id.
//
// Session creation and teardown for one device are serialised by a
// per-device lock, so concurrent EnsureSession calls for the same device
// never open two sessions. Different devices proceed independently.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	engine   Engine
	opts     Options
	logger   Logger
	observer Observer
	registry RegistrySource

	mu       sync.Mutex
	sessions map[string]*entry
	locks    map[string]*deviceLock

	now func() time.Time
}

// NewManager creates a session manager backed by engine.
//
// Parameters:
//   - engine: Opens engine-level sessions (HTTP or browser)
//   - opts: Timeouts; zero values select the defaults
//   - logger: Logger instance (may be nil)
func NewManager(engine Engine, opts Options, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Manager{
		engine:   engine,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*entry),
		locks:    make(map[string]*deviceLock),
		now:      time.Now,
	}
}

// SetObserver installs a lifecycle observer (typically metrics).
// Call before the manager is used concurrently.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// SetRegistry makes the manager check every newly opened session against
// the current registry before keeping it. A device that was removed, or
// whose endpoint changed, while its connect was in flight gets its session
// closed and ErrDeviceRemoved. Call before the manager is used concurrently.
func (m *Manager) SetRegistry(r RegistrySource) {
	m.registry = r
}

// EngineName returns the name of the session engine.
func (m *Manager) EngineName() string {
	return m.engine.Name()
}

// EnsureSession returns a live session for dev.
//
// With an existing session and force false, the surface is reloaded with a
// bounded timeout and, on success, the existing session is returned with
// the zoom re-applied. Otherwise any existing session is torn down (errors
// ignored) and a new one is opened and loaded.
//
// Returns:
//   - *Session: the live session
//   - error: a *ConnectError (errors.Is ErrConnectFailed) on failure
func (m *Manager) EnsureSession(ctx context.Context, dev fleet.Device, force bool) (*Session, error) {
	start := m.now()
	unlock := m.lockDevice(dev.ID)
	defer unlock()

	m.mu.Lock()
	existing := m.sessions[dev.ID]
	m.mu.Unlock()

	if existing != nil && !force {
		if s, ok := m.tryReuse(ctx, existing, dev); ok {
			m.observeConnect(dev.ID, true, nil, m.now().Sub(start))
			return s, nil
		}
	}

	if existing != nil {
		m.teardown(dev.ID, existing)
	}

	s, err := m.open(ctx, dev)
	m.observeConnect(dev.ID, false, err, m.now().Sub(start))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSurface is EnsureSession for callers that only need the control surface.
func (m *Manager) EnsureSurface(ctx context.Context, dev fleet.Device, force bool) (fleet.Surface, error) {
	s, err := m.EnsureSession(ctx, dev, force)
	if err != nil {
		return nil, err
	}
	return s.Surface(), nil
}

// tryReuse reloads an existing session. It refuses sessions whose endpoint
// or credentials no longer match the device definition.
func (m *Manager) tryReuse(ctx context.Context, e *entry, dev fleet.Device) (*Session, bool) {
	if !e.dev.SameEndpoint(dev) {
		m.logger.Debug("session endpoint changed, reopening", "device_id", dev.ID)
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	if err := safeCall(func() error { return e.conn.Reload(rctx) }); err != nil {
		m.logger.Info("session reload failed, reopening", "device_id", dev.ID, "error", err)
		return nil, false
	}

	m.applyZoom(rctx, e.conn, dev)

	m.mu.Lock()
	e.dev = dev
	m.mu.Unlock()

	return &Session{deviceID: dev.ID, conn: e.conn, connectedAt: e.connectedAt, reused: true}, true
}

func (m *Manager) open(ctx context.Context, dev fleet.Device) (*Session, error) {
	octx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	var conn Conn
	err := safeCall(func() error {
		var err error
		conn, err = m.engine.Open(octx, dev)
		return err
	})
	if err != nil {
		return nil, &ConnectError{DeviceID: dev.ID, Stage: StageOpen, Err: err}
	}

	if err := safeCall(func() error { return conn.Load(octx) }); err != nil {
		_ = safeCall(conn.Close)
		return nil, &ConnectError{DeviceID: dev.ID, Stage: StageLoad, Err: err}
	}

	m.applyZoom(octx, conn, dev)

	e := &entry{dev: dev, conn: conn, connectedAt: m.now()}
	m.mu.Lock()
	if !m.configuredLocked(dev) {
		m.mu.Unlock()
		_ = safeCall(conn.Close)
		m.logger.Info("device removed during connect, session dropped", "device_id", dev.ID)
		return nil, &ConnectError{DeviceID: dev.ID, Stage: StageRegister, Err: ErrDeviceRemoved}
	}
	m.sessions[dev.ID] = e
	m.mu.Unlock()

	m.logger.Info("session opened", "device_id", dev.ID, "engine", m.engine.Name())
	return &Session{deviceID: dev.ID, conn: conn, connectedAt: e.connectedAt}, nil
}

// applyZoom is best-effort; a zoom failure never fails the session.
func (m *Manager) applyZoom(ctx context.Context, conn Conn, dev fleet.Device) {
	if err := safeCall(func() error { return conn.ApplyZoom(ctx, dev.Zoom) }); err != nil {
		m.logger.Debug("applying zoom failed", "device_id", dev.ID, "zoom", dev.Zoom, "error", err)
	}
}

// teardown removes and closes e. Close errors are logged and dropped.
// Caller must hold the device lock.
func (m *Manager) teardown(id string, e *entry) {
	m.mu.Lock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if err := safeCall(e.conn.Close); err != nil {
		m.logger.Debug("session close failed", "device_id", id, "error", err)
	}
	if m.observer != nil {
		m.observer.ObserveRelease(id)
	}
}

// Release tears down the session for id, if any. It never fails.
func (m *Manager) Release(id string) {
	unlock := m.lockDevice(id)
	defer unlock()

	m.mu.Lock()
	e := m.sessions[id]
	m.mu.Unlock()

	if e == nil {
		return
	}
	m.teardown(id, e)
	m.logger.Info("session released", "device_id", id)
}

// IsAlive probes the session for id. A missing session, a failed probe or
// a panicking engine all yield false.
//
// The probe runs against a snapshot of the session without taking the
// device lock, so it never waits behind a slow connect. A session torn down
// mid-probe simply fails the probe.
func (m *Manager) IsAlive(ctx context.Context, id string) bool {
	m.mu.Lock()
	e := m.sessions[id]
	m.mu.Unlock()

	if e == nil {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	return safeCall(func() error { return e.conn.Probe(pctx) }) == nil
}

// Has reports whether a session exists for id, without probing it.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// IDs returns the device ids with a session, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// ShutdownAll releases every session, continuing past individual failures.
func (m *Manager) ShutdownAll() {
	ids := m.IDs()
	for _, id := range ids {
		m.Release(id)
	}
	m.logger.Info("all sessions released", "count", len(ids))
}

// configuredLocked reports whether dev is still in the registry with the
// same endpoint. Caller must hold m.mu; a registry swap followed by IDs()
// therefore either sees the stored session or prevents it.
func (m *Manager) configuredLocked(dev fleet.Device) bool {
	if m.registry == nil {
		return true
	}
	cur, ok := m.registry.Current().Device(dev.ID)
	return ok && cur.SameEndpoint(dev)
}

// deviceLock serialises work on one device id. refs counts holders and
// waiters so the entry can be dropped once nobody uses it.
type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// lockDevice acquires the lock for id and returns its release func.
func (m *Manager) lockDevice(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &deviceLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) observeConnect(id string, reused bool, err error, elapsed time.Duration) {
	if m.observer != nil {
		m.observer.ObserveConnect(id, reused, err, elapsed)
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn()
}
