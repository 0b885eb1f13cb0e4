// Package liveness tracks which cameras are currently reachable.
//
// The Monitor probes every registered device on a fixed interval and
// publishes a fresh status map each cycle. The dispatcher and the
// controller also mark individual devices after commands and connects.
// Readers get immutable snapshots; writers replace the whole map, so the
// last writer wins and nobody ever sees a half-updated map.
package liveness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/fleet"
)

// DefaultInterval is the probe cycle period.
const DefaultInterval = 30 * time.Second

// Logger is the logging interface used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Prober reports whether a device's session is alive. It must not fail.
type Prober interface {
	IsAlive(ctx context.Context, deviceID string) bool
}

// RegistrySource provides the current registry snapshot.
type RegistrySource interface {
	Current() *fleet.Registry
}

// Gauge receives the online count after every change. It may be nil.
type Gauge interface {
	SetDevicesOnline(online, total int)
}

// Status is one device's liveness.
type Status struct {
	Online        bool      `json:"online"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	Source        string    `json:"source"`
}

// Snapshot is an immutable view of the status map.
type Snapshot struct {
	entries map[string]Status
}

// Get returns the status for id. Unknown ids are offline.
func (s Snapshot) Get(id string) (Status, bool) {
	st, ok := s.entries[id]
	return st, ok
}

// Online reports whether id is known and online.
func (s Snapshot) Online(id string) bool {
	return s.entries[id].Online
}

// Len returns the number of tracked devices.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// CountOnline counts how many of devices are online.
func (s Snapshot) CountOnline(devices []fleet.Device) int {
	n := 0
	for _, d := range devices {
		if s.Online(d.ID) {
			n++
		}
	}
	return n
}

// Monitor periodically probes every device and maintains the status map.
//
// Thread Safety: All methods are safe for concurrent use.
type Monitor struct {
	registry RegistrySource
	prober   Prober
	sink     events.Sink
	logger   Logger
	interval time.Duration
	gauge    Gauge

	current atomic.Pointer[map[string]Status]
	writeMu sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	now func() time.Time
}

// NewMonitor creates a liveness monitor. Call Start to begin probing.
//
// Parameters:
//   - registry: Source of the devices to probe
//   - prober: Session manager used for probes
//   - sink: Receives device.status events on changes (may be nil)
//   - interval: Probe period; zero selects DefaultInterval
//   - logger: Logger instance (may be nil)
func NewMonitor(registry RegistrySource, prober Prober, sink events.Sink, interval time.Duration, logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		registry: registry,
		prober:   prober,
		sink:     sink,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	empty := map[string]Status{}
	m.current.Store(&empty)
	return m
}

// SetGauge installs the online-count gauge. Call before Start.
func (m *Monitor) SetGauge(g Gauge) {
	m.gauge = g
}

// Snapshot returns the current status map.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{entries: *m.current.Load()}
}

// Tick probes every device in the current registry and publishes a map
// built from scratch, so devices removed by a reload drop out.
//
// Probes run sequentially, each bounded by the session manager's probe
// timeout.
func (m *Monitor) Tick(ctx context.Context) Snapshot {
	reg := m.registry.Current()
	devices := reg.Devices()

	fresh := make(map[string]Status, len(devices))
	for _, dev := range devices {
		fresh[dev.ID] = Status{
			Online:        m.prober.IsAlive(ctx, dev.ID),
			LastCheckedAt: m.now(),
			Source:        events.SourceProbe,
		}
	}

	m.writeMu.Lock()
	prev := *m.current.Swap(&fresh)
	m.writeMu.Unlock()

	for _, dev := range devices {
		st := fresh[dev.ID]
		if old, ok := prev[dev.ID]; !ok || old.Online != st.Online {
			m.emit(dev, st, "")
		}
	}
	m.updateGauge(fresh, len(devices))

	m.logger.Debug("liveness tick complete",
		"devices", len(devices),
		"online", Snapshot{entries: fresh}.CountOnline(devices),
	)
	return Snapshot{entries: fresh}
}

// Mark records a presumptive status for one device after a command.
// An unknown device id is ignored.
func (m *Monitor) Mark(deviceID string, online bool) {
	m.MarkFrom(deviceID, online, events.SourceDispatch, "")
}

// MarkFrom is Mark with an explicit source (an events.Source constant)
// and an optional failure detail for the status event.
//
// The map is copied and replaced. Entries for devices no longer in the
// registry are dropped on the way.
func (m *Monitor) MarkFrom(deviceID string, online bool, source, detail string) {
	reg := m.registry.Current()
	dev, ok := reg.Device(deviceID)
	if !ok {
		return
	}

	st := Status{Online: online, LastCheckedAt: m.now(), Source: source}

	m.writeMu.Lock()
	prev := *m.current.Load()
	next := make(map[string]Status, len(prev)+1)
	for id, s := range prev {
		if _, ok := reg.Device(id); ok {
			next[id] = s
		}
	}
	next[deviceID] = st
	m.current.Store(&next)
	m.writeMu.Unlock()

	if old, seen := prev[deviceID]; !seen || old.Online != online {
		m.emit(dev, st, detail)
	}
	m.updateGauge(next, reg.DeviceCount())
}

// Start begins periodic probing. Call Stop to shut down.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts probing and waits for an in-flight tick to finish.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *Monitor) emit(dev fleet.Device, st Status, detail string) {
	m.sink.Broadcast(events.ChannelDeviceStatus, events.DeviceStatus{
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Online:     st.Online,
		Source:     st.Source,
		Detail:     detail,
		At:         st.LastCheckedAt,
	})
}

func (m *Monitor) updateGauge(status map[string]Status, total int) {
	if m.gauge == nil {
		return
	}
	online := 0
	for _, s := range status {
		if s.Online {
			online++
		}
	}
	m.gauge.SetDevicesOnline(online, total)
}
