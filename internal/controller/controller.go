package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/multicam-core/internal/dispatch"
	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/fleet"
	"github.com/nerrad567/multicam-core/internal/liveness"
)

// ErrReloadFailed is returned by Reload when the config file could not be
// read or parsed. The registry is empty afterwards.
var ErrReloadFailed = errors.New("controller: config reload failed")

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sessions is the part of the session manager the controller drives.
type Sessions interface {
	EnsureSurface(ctx context.Context, dev fleet.Device, force bool) (fleet.Surface, error)
	Release(id string)
	Has(id string) bool
	IDs() []string
}

// Liveness is the part of the liveness monitor the controller drives.
type Liveness interface {
	MarkFrom(deviceID string, online bool, source, detail string)
	Snapshot() liveness.Snapshot
}

// Runner executes actions.
type Runner interface {
	RunAction(ctx context.Context, actionID string, requested []string) (*dispatch.Result, error)
}

// ReloadRecorder receives reload outcomes. It may be nil.
type ReloadRecorder interface {
	ObserveReload(ok bool)
}

// ConnectResult is one device's outcome from ConnectAll.
type ConnectResult struct {
	DeviceID   string  `json:"camera_id"`
	DeviceName string  `json:"camera_name"`
	OK         bool    `json:"ok"`
	Error      *string `json:"error"`
}

// Controller owns the process-wide operations that span components:
// config reload, connect-all, status summary and remote triggers.
//
// Thread Safety: All methods are safe for concurrent use. Reloads are
// serialised, as are connect-all passes.
type Controller struct {
	configPath string
	handle     *fleet.Handle
	sessions   Sessions
	liveness   Liveness
	runner     Runner
	sink       events.Sink
	logger     Logger
	recorder   ReloadRecorder

	reloadMu  sync.Mutex
	connectMu sync.Mutex

	trigMu   sync.Mutex
	triggers triggerSet

	// Background work (reconnect after reload, MQTT triggers) runs under
	// baseCtx and is waited for by Close.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller.
//
// Parameters:
//   - configPath: File re-read by Reload
//   - handle: Process-wide registry handle
//   - sessions: Session manager
//   - live: Liveness monitor
//   - runner: Dispatcher
//   - sink: Receives config.reloaded events (may be nil)
//   - logger: Logger instance (may be nil)
func New(configPath string, handle *fleet.Handle, sessions Sessions, live Liveness, runner Runner, sink events.Sink, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	if sink == nil {
		sink = events.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		configPath: configPath,
		handle:     handle,
		sessions:   sessions,
		liveness:   live,
		runner:     runner,
		sink:       sink,
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// SetRecorder installs the reload metrics recorder. Call before use.
func (c *Controller) SetRecorder(r ReloadRecorder) {
	c.recorder = r
}

// Registry returns the current registry snapshot.
func (c *Controller) Registry() *fleet.Registry {
	return c.handle.Current()
}

// RunAction dispatches actionID to its resolved targets.
func (c *Controller) RunAction(ctx context.Context, actionID string, requested []string) (*dispatch.Result, error) {
	return c.runner.RunAction(ctx, actionID, requested)
}

// Reload re-reads the config file, swaps in the new registry and releases
// sessions for devices that were removed or whose endpoint changed. The
// remaining sessions are then reconnected in the background with the
// reload-first policy.
//
// A fatal config error leaves an empty registry in place and returns
// ErrReloadFailed; the result still carries every warning.
func (c *Controller) Reload(ctx context.Context) (events.ConfigReloaded, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	next, warnings := fleet.LoadFile(c.configPath)
	for _, w := range warnings {
		c.logger.Warn("config warning", "warning", w.String())
	}

	prev := c.handle.Swap(next)
	released := c.releaseStale(prev, next)

	res := events.ConfigReloaded{
		OK:       true,
		Devices:  next.DeviceCount(),
		Actions:  len(next.Actions()),
		Released: released,
		Warnings: fleet.WarningStrings(warnings),
	}
	fatal, isFatal := fleet.FatalWarning(warnings)
	if isFatal {
		res.OK = false
		res.Error = fatal.Message
	}

	c.sink.Broadcast(events.ChannelConfigReloaded, res)
	if c.recorder != nil {
		c.recorder.ObserveReload(res.OK)
	}

	if isFatal {
		c.logger.Error("config reload failed", "path", c.configPath, "error", fatal.Message)
		return res, fmt.Errorf("%w: %s", ErrReloadFailed, fatal.Message)
	}

	c.logger.Info("config reloaded",
		"cameras", res.Devices,
		"buttons", res.Actions,
		"released", len(released),
		"warnings", len(warnings),
	)

	if next.DeviceCount() > 0 {
		c.Go(func(ctx context.Context) {
			c.ConnectAll(ctx, false)
		})
	}
	return res, nil
}

// releaseStale releases every live session whose device is gone from next
// or whose endpoint (url, gui path, credentials) changed. Sessions are
// matched by device id.
func (c *Controller) releaseStale(prev, next *fleet.Registry) []string {
	var released []string
	for _, id := range c.sessions.IDs() {
		nd, stillThere := next.Device(id)
		od, wasThere := prev.Device(id)
		if stillThere && (!wasThere || od.SameEndpoint(nd)) {
			continue
		}
		c.sessions.Release(id)
		released = append(released, id)
		c.logger.Debug("session released on reload", "camera_id", id, "removed", !stillThere)
	}
	return released
}

// ConnectAll ensures a session for every device in registry order and
// marks each device's liveness from the outcome. With force set every
// session is recreated from scratch.
//
// A cancelled ctx stops the pass before the next device.
func (c *Controller) ConnectAll(ctx context.Context, force bool) []ConnectResult {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	devices := c.handle.Current().Devices()
	results := make([]ConnectResult, 0, len(devices))
	start := time.Now()

	for _, dev := range devices {
		if ctx.Err() != nil {
			break
		}

		res := ConnectResult{DeviceID: dev.ID, DeviceName: dev.Name, OK: true}
		detail := ""
		if _, err := c.sessions.EnsureSurface(ctx, dev, force); err != nil {
			detail = fleet.ErrorDetail(err)
			res.OK = false
			res.Error = &detail
			c.logger.Warn("camera connect failed", "camera_id", dev.ID, "error", err)
		}
		c.liveness.MarkFrom(dev.ID, res.OK, events.SourceConnect, detail)
		results = append(results, res)
	}

	c.logger.Info("connect pass complete",
		"force", force,
		"cameras", len(results),
		"online", countOK(results),
		"duration", time.Since(start),
	)
	return results
}

// Go runs fn in the background under the controller's context. Close
// cancels that context and waits for fn to return.
func (c *Controller) Go(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.baseCtx)
	}()
}

// Wait blocks until all background work has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops accepting MQTT triggers, cancels background work and waits
// for it. Safe to call multiple times.
func (c *Controller) Close() {
	c.UnsubscribeTriggers()
	c.cancel()
	c.wg.Wait()
}

func countOK(results []ConnectResult) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}
