// Package events defines the status and result events emitted by the
// dispatcher, the liveness monitor and the controller, plus the sinks that
// deliver them (WebSocket hub, MQTT, log).
//
// Producers only see the Sink interface. Delivery is fire-and-forget: a sink
// that cannot deliver logs and drops the event, it never blocks or fails
// the producer.
package events

import "time"

// Event channels. WebSocket clients subscribe to these names and MQTT
// events are published under {prefix}/event/{channel}.
const (
	ChannelDeviceStatus    = "device.status"
	ChannelActionResult    = "action.result"
	ChannelActionCompleted = "action.completed"
	ChannelConfigReloaded  = "config.reloaded"
)

// Sources of a device status change.
const (
	SourceProbe    = "probe"
	SourceDispatch = "dispatch"
	SourceConnect  = "connect"
)

// Sink receives events. Implementations must be safe for concurrent use
// and must not block for long.
type Sink interface {
	Broadcast(channel string, payload any)
}

// DeviceStatus is published on ChannelDeviceStatus when a device's
// online flag is set.
type DeviceStatus struct {
	DeviceID   string    `json:"camera_id"`
	DeviceName string    `json:"camera_name"`
	Online     bool      `json:"online"`
	Source     string    `json:"source"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// ActionResult is published on ChannelActionResult after each device in a
// dispatch has been handled.
type ActionResult struct {
	DispatchID string `json:"dispatch_id"`
	ActionID   string `json:"action_id"`
	DeviceID   string `json:"camera_id"`
	DeviceName string `json:"camera_name"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ActionCompleted is published on ChannelActionCompleted when a dispatch ends.
type ActionCompleted struct {
	DispatchID string `json:"dispatch_id"`
	ActionID   string `json:"action_id"`
	OK         bool   `json:"ok"`
	Succeeded  int    `json:"succeeded"`
	Total      int    `json:"total"`
	DurationMS int64  `json:"duration_ms"`
}

// ConfigReloaded is published on ChannelConfigReloaded after a reload.
type ConfigReloaded struct {
	OK       bool     `json:"ok"`
	Devices  int      `json:"cameras"`
	Actions  int      `json:"buttons"`
	Released []string `json:"released,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Fanout delivers each event to every non-nil sink in order.
type Fanout []Sink

// Broadcast implements Sink.
func (f Fanout) Broadcast(channel string, payload any) {
	for _, s := range f {
		if s != nil {
			s.Broadcast(channel, payload)
		}
	}
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Broadcast implements Sink.
func (Discard) Broadcast(string, any) {}
