package fleet

import (
	"encoding/json"
	"strings"
	"time"
)

// AuthType is the HTTP authentication scheme a camera expects.
type AuthType string

// Supported authentication schemes.
const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthDigest AuthType = "digest"
)

// ParseAuthType converts a config string to an AuthType.
// Matching is case-insensitive; the empty string is not valid.
func ParseAuthType(s string) (AuthType, bool) {
	switch AuthType(strings.ToLower(strings.TrimSpace(s))) {
	case AuthNone:
		return AuthNone, true
	case AuthBasic:
		return AuthBasic, true
	case AuthDigest:
		return AuthDigest, true
	default:
		return "", false
	}
}

// Credentials are bound to a session when it is created, never per request.
type Credentials struct {
	Type     AuthType
	Username string
	Password string
}

// Device is one camera with an authenticated web control surface.
//
// Devices are immutable once built. A config reload produces new Device
// values; nothing mutates an existing one.
type Device struct {
	ID      string
	Name    string
	BaseURL string // scheme://host[:port], never a trailing slash
	GUIPath string // always starts with "/"
	Zoom    float64
	Auth    Credentials
}

// GUIURL returns the absolute URL of the camera's embeddable web UI.
func (d Device) GUIURL() string {
	return d.BaseURL + d.GUIPath
}

// SameEndpoint reports whether two devices would open identical sessions.
// A reload keeps a live session only when this holds for the old and new
// definition of the same id.
func (d Device) SameEndpoint(other Device) bool {
	return d.BaseURL == other.BaseURL &&
		d.GUIPath == other.GUIPath &&
		d.Auth == other.Auth
}

// Targets is an action's device selection: either the sentinel "all" or an
// explicit list of device ids or names.
//
// "all" is resolved against the registry at dispatch time, never cached.
type Targets struct {
	all   bool
	names []string
}

// AllTargets returns the "all" sentinel.
func AllTargets() Targets {
	return Targets{all: true}
}

// TargetList returns an explicit selection of device ids or names.
func TargetList(names ...string) Targets {
	cp := make([]string, len(names))
	copy(cp, names)
	return Targets{names: cp}
}

// IsAll reports whether the selection is the "all" sentinel.
func (t Targets) IsAll() bool {
	return t.all
}

// Names returns a copy of the explicit selection (nil for "all").
func (t Targets) Names() []string {
	if t.all {
		return nil
	}
	cp := make([]string, len(t.names))
	copy(cp, t.names)
	return cp
}

// MarshalJSON renders "all" as the string "all" and explicit lists as arrays.
func (t Targets) MarshalJSON() ([]byte, error) {
	if t.all {
		return json.Marshal(targetsAll)
	}
	return json.Marshal(t.Names())
}

const targetsAll = "all"

// ActionSpec is a named command (a "button") executable against one or more devices.
type ActionSpec struct {
	ID      string
	Label   string
	Color   string // display hint only
	Targets Targets
	Command Command
}

// Settings are the global values from the settings section.
type Settings struct {
	Port         int
	CommandDelay time.Duration
	DefaultAuth  Credentials
}

// Registry is one immutable generation of the configured devices and actions.
//
// Devices keep config file order; that order drives deterministic dispatch.
// All methods are safe for concurrent use because nothing is ever mutated
// after Build returns.
type Registry struct {
	settings  Settings
	devices   []Device
	deviceIdx map[string]int
	actions   []ActionSpec
	actionIdx map[string]int
}

// Empty returns a registry with no devices or actions and default settings.
func Empty() *Registry {
	return &Registry{
		settings:  defaultSettings(),
		deviceIdx: map[string]int{},
		actionIdx: map[string]int{},
	}
}

// Settings returns the global settings of this generation.
func (r *Registry) Settings() Settings {
	return r.settings
}

// Devices returns all devices in config order.
// The slice is a copy; callers may modify it.
func (r *Registry) Devices() []Device {
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Device returns the device with the given id.
func (r *Registry) Device(id string) (Device, bool) {
	i, ok := r.deviceIdx[id]
	if !ok {
		return Device{}, false
	}
	return r.devices[i], true
}

// DeviceCount returns the number of devices.
func (r *Registry) DeviceCount() int {
	return len(r.devices)
}

// Actions returns all actions in config order.
func (r *Registry) Actions() []ActionSpec {
	out := make([]ActionSpec, len(r.actions))
	copy(out, r.actions)
	return out
}

// Action returns the action with the given id.
func (r *Registry) Action(id string) (ActionSpec, bool) {
	i, ok := r.actionIdx[id]
	if !ok {
		return ActionSpec{}, false
	}
	return r.actions[i], true
}

// position returns the config-order index of a device id, or -1.
func (r *Registry) position(id string) int {
	if i, ok := r.deviceIdx[id]; ok {
		return i
	}
	return -1
}
