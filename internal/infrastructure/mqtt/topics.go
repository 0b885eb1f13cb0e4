package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "multicam"

// Topics builds MultiCam MQTT topics under a configurable prefix.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{Prefix: "site-a/multicam"}
//	topics.Event("action.completed")
//	// Returns: "site-a/multicam/event/action.completed"
type Topics struct {
	Prefix string
}

func (t Topics) base() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// =============================================================================
// Event Topics (published by core)
// =============================================================================

// Event returns the topic for one event channel.
//
// Example: multicam/event/device.status
func (t Topics) Event(channel string) string {
	return t.base() + "/event/" + channel
}

// DeviceStatus returns the retained per-camera status topic.
//
// Example: multicam/device/cam-1/status
func (t Topics) DeviceStatus(deviceID string) string {
	return t.base() + "/device/" + deviceID + "/status"
}

// =============================================================================
// Command Topics (consumed by core)
// =============================================================================

// CommandRun returns the topic external systems publish action triggers to.
//
// Example: multicam/command/run
func (t Topics) CommandRun() string {
	return t.base() + "/command/run"
}

// CommandReload returns the topic that triggers a config reload.
//
// Example: multicam/command/reload
func (t Topics) CommandReload() string {
	return t.base() + "/command/reload"
}

// CommandConnect returns the topic that triggers connect-all.
//
// Example: multicam/command/connect
func (t Topics) CommandConnect() string {
	return t.base() + "/command/connect"
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the topic for core online/offline status (LWT).
//
// Example: multicam/system/status
func (t Topics) SystemStatus() string {
	return t.base() + "/system/status"
}
