package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/fleet"
)

// Logger is the logging interface used by the dispatcher.
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

// Sessions is what the dispatcher needs from the session manager.
type Sessions interface {
	EnsureSurface(ctx context.Context, dev fleet.Device, force bool) (fleet.Surface, error)
}

// Liveness receives the presumptive online state after each command.
type Liveness interface {
	Mark(deviceID string, online bool)
}

// Recorder receives dispatch measurements. It may be nil.
type Recorder interface {
	ObserveDispatch(actionID string, ok bool, elapsed time.Duration)
	ObserveDeviceResult(actionID, deviceID string, ok bool)
}

// DefaultCommandTimeout bounds one command invocation on one device.
const DefaultCommandTimeout = 3 * time.Second

// DeviceResult is the outcome for one device. StatusCode and Error are nil
// when not applicable so they encode as JSON null.
type DeviceResult struct {
	DeviceID   string  `json:"camera_id"`
	DeviceName string  `json:"camera_name"`
	OK         bool    `json:"ok"`
	StatusCode *int    `json:"status_code"`
	Error      *string `json:"error"`
}

// Result is the aggregated outcome of one RunAction call.
//
// Results lists every targeted device, in registry order, whatever its
// outcome. OK is the logical AND of every device's OK.
type Result struct {
	ID        string         `json:"dispatch_id"`
	ActionID  string         `json:"action_id"`
	OK        bool           `json:"ok"`
	Results   []DeviceResult `json:"results"`
	StartedAt time.Time      `json:"-"`
	Duration  time.Duration  `json:"-"`
}

// Succeeded returns how many devices reported success.
func (r *Result) Succeeded() int {
	n := 0
	for _, dr := range r.Results {
		if dr.OK {
			n++
		}
	}
	return n
}

// Options configures a Dispatcher.
type Options struct {
	// CommandTimeout bounds each command invocation. Zero selects the default.
	CommandTimeout time.Duration
}

// Dispatcher runs one action across its resolved targets.
//
// Dispatches are serialised: a single logical worker processes devices one
// at a time in registry order, sleeping the configured command delay
// between devices. A device failure is recorded and the loop moves on; only
// an unknown action or an empty target set fails the call.
//
// Thread Safety: RunAction is safe for concurrent use; calls queue.
type Dispatcher struct {
	registry RegistrySource
	sessions Sessions
	liveness Liveness
	sink     events.Sink
	recorder Recorder
	logger   Logger
	opts     Options

	mu    sync.Mutex
	sleep func(time.Duration)
	newID func() string
}

// New creates a dispatcher.
//
// Parameters:
//   - registry: Source of the current registry snapshot
//   - sessions: Session manager used to reach each device
//   - liveness: Receives per-device online marks (may be nil)
//   - sink: Receives action.result and action.completed events (may be nil)
//   - logger: Logger instance (may be nil)
//   - opts: Command timeout
func New(registry RegistrySource, sessions Sessions, liveness Liveness, sink events.Sink, logger Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		liveness: liveness,
		sink:     sink,
		logger:   logger,
		opts:     opts,
		sleep:    time.Sleep,
		newID:    uuid.NewString,
	}
}

// SetRecorder installs a metrics recorder. Call before concurrent use.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// RunAction runs the action with actionID against the current registry.
//
// The dispatch is detached from ctx cancellation once started: every
// network step has its own timeout and a stuck device is recorded as a
// failure. Values carried by ctx are preserved.
//
// Parameters:
//   - ctx: Request context (values only)
//   - actionID: The action to run
//   - requested: Optional device ids narrowing the action's targets
//
// Returns:
//   - *Result: per-device outcomes in registry order
//   - error: nil, or ErrUnknownAction / ErrNoTargets (wrapped) before any I/O
func (d *Dispatcher) RunAction(ctx context.Context, actionID string, requested []string) (*Result, error) {
	reg := d.registry.Current()

	action, ok := reg.Action(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
	return d.Run(ctx, reg, action, requested)
}

// Run dispatches action against reg. RunAction is the usual entry point.
func (d *Dispatcher) Run(ctx context.Context, reg *fleet.Registry, action fleet.ActionSpec, requested []string) (*Result, error) {
	targets := Resolve(action, requested, reg)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: action %q", ErrNoTargets, action.ID)
	}

	ctx = context.WithoutCancel(ctx)
	pacing := reg.Settings().CommandDelay

	d.mu.Lock()
	defer d.mu.Unlock()

	res := &Result{
		ID:        d.newID(),
		ActionID:  action.ID,
		OK:        true,
		Results:   make([]DeviceResult, 0, len(targets)),
		StartedAt: time.Now(),
	}

	d.logger.Info("dispatch started",
		"dispatch_id", res.ID,
		"action_id", action.ID,
		"targets", len(targets),
		"pacing", pacing,
	)

	for i, dev := range targets {
		if i > 0 && pacing > 0 {
			d.sleep(pacing)
		}

		dr := d.runOne(ctx, action, dev)
		res.Results = append(res.Results, dr)
		res.OK = res.OK && dr.OK

		if d.liveness != nil {
			d.liveness.Mark(dev.ID, dr.OK)
		}
		if d.recorder != nil {
			d.recorder.ObserveDeviceResult(action.ID, dev.ID, dr.OK)
		}
		d.sink.Broadcast(events.ChannelActionResult, actionResultEvent(res.ID, action.ID, dr))
	}

	res.Duration = time.Since(res.StartedAt)

	d.logger.Info("dispatch complete",
		"dispatch_id", res.ID,
		"action_id", action.ID,
		"ok", res.OK,
		"succeeded", res.Succeeded(),
		"total", len(res.Results),
		"duration_ms", res.Duration.Milliseconds(),
	)

	if d.recorder != nil {
		d.recorder.ObserveDispatch(action.ID, res.OK, res.Duration)
	}
	d.sink.Broadcast(events.ChannelActionCompleted, events.ActionCompleted{
		DispatchID: res.ID,
		ActionID:   action.ID,
		OK:         res.OK,
		Succeeded:  res.Succeeded(),
		Total:      len(res.Results),
		DurationMS: res.Duration.Milliseconds(),
	})

	return res, nil
}

// runOne ensures a session for dev and executes the action's command.
// Every failure, including a panicking command, becomes a failed result.
func (d *Dispatcher) runOne(ctx context.Context, action fleet.ActionSpec, dev fleet.Device) DeviceResult {
	dr := DeviceResult{DeviceID: dev.ID, DeviceName: dev.Name}

	surface, err := d.sessions.EnsureSurface(ctx, dev, false)
	if err != nil {
		detail := fleet.ErrorDetail(err)
		dr.Error = &detail
		d.logger.Warn("device unreachable", "action_id", action.ID, "device_id", dev.ID, "error", detail)
		return dr
	}

	cctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	out := execute(cctx, action.Command, dev, surface)
	dr.OK = out.OK
	if out.StatusCode != 0 {
		code := out.StatusCode
		dr.StatusCode = &code
	}
	if !out.OK {
		detail := out.Detail
		if detail == "" {
			detail = "command failed"
		}
		dr.Error = &detail
		d.logger.Warn("command failed", "action_id", action.ID, "device_id", dev.ID, "error", detail)
	}
	return dr
}

func execute(ctx context.Context, cmd fleet.Command, dev fleet.Device, s fleet.Surface) (out fleet.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = fleet.Outcome{Detail: fmt.Sprintf("command panic: %v", r)}
		}
	}()
	if cmd == nil {
		return fleet.Outcome{Detail: "action has no command"}
	}
	return cmd.Execute(ctx, dev, s)
}

func actionResultEvent(dispatchID, actionID string, dr DeviceResult) events.ActionResult {
	ev := events.ActionResult{
		DispatchID: dispatchID,
		ActionID:   actionID,
		DeviceID:   dr.DeviceID,
		DeviceName: dr.DeviceName,
		OK:         dr.OK,
	}
	if dr.StatusCode != nil {
		ev.StatusCode = *dr.StatusCode
	}
	if dr.Error != nil {
		ev.Error = *dr.Error
	}
	return ev
}
