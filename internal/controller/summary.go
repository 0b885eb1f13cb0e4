package controller

import (
	"fmt"
	"time"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

// DeviceStatus is one camera's entry in the status summary.
type DeviceStatus struct {
	ID            string     `json:"camera_id"`
	Name          string     `json:"camera_name"`
	Online        bool       `json:"online"`
	Session       bool       `json:"session"`
	Source        string     `json:"source,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
}

// Status is the liveness summary for every registered camera.
type Status struct {
	Online  int            `json:"online"`
	Total   int            `json:"total"`
	Summary string         `json:"summary"`
	Cameras []DeviceStatus `json:"cameras"`
}

// Status builds the current summary in registry order. Devices the
// monitor has not seen yet are reported offline.
func (c *Controller) Status() Status {
	devices := c.handle.Current().Devices()
	snap := c.liveness.Snapshot()

	st := Status{Total: len(devices), Cameras: make([]DeviceStatus, 0, len(devices))}
	for _, dev := range devices {
		ds := DeviceStatus{ID: dev.ID, Name: dev.Name, Session: c.sessions.Has(dev.ID)}
		if entry, ok := snap.Get(dev.ID); ok {
			checked := entry.LastCheckedAt
			ds.Online = entry.Online
			ds.Source = entry.Source
			ds.LastCheckedAt = &checked
		}
		if ds.Online {
			st.Online++
		}
		st.Cameras = append(st.Cameras, ds)
	}
	st.Summary = SummaryText(st.Online, st.Total)
	return st
}

// SummaryText renders the "N/M online" line.
func SummaryText(online, total int) string {
	return fmt.Sprintf("%d/%d online", online, total)
}

// CameraSummary is the sanitized view of a device. Credentials are never
// included.
type CameraSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	GUIURL   string  `json:"gui_url"`
	Zoom     float64 `json:"zoom"`
	AuthType string  `json:"auth_type"`
}

// ButtonSummary is the public view of an action.
type ButtonSummary struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Color   string        `json:"color,omitempty"`
	Targets fleet.Targets `json:"targets"`
	Kind    string        `json:"kind"`
}

// SettingsSummary is the public view of the global settings.
type SettingsSummary struct {
	Port           int `json:"port"`
	CommandDelayMS int `json:"command_delay_ms"`
}

// ConfigSummary is the sanitized configuration returned to UIs.
type ConfigSummary struct {
	Settings SettingsSummary `json:"settings"`
	Cameras  []CameraSummary `json:"cameras"`
	Buttons  []ButtonSummary `json:"buttons"`
}

// Summarize returns the sanitized view of reg.
func Summarize(reg *fleet.Registry) ConfigSummary {
	s := reg.Settings()
	out := ConfigSummary{
		Settings: SettingsSummary{
			Port:           s.Port,
			CommandDelayMS: int(s.CommandDelay / time.Millisecond),
		},
		Cameras: []CameraSummary{},
		Buttons: []ButtonSummary{},
	}
	for _, d := range reg.Devices() {
		out.Cameras = append(out.Cameras, CameraSummary{
			ID:       d.ID,
			Name:     d.Name,
			GUIURL:   d.GUIURL(),
			Zoom:     d.Zoom,
			AuthType: string(d.Auth.Type),
		})
	}
	for _, a := range reg.Actions() {
		out.Buttons = append(out.Buttons, ButtonSummary{
			ID:      a.ID,
			Label:   a.Label,
			Color:   a.Color,
			Targets: a.Targets,
			Kind:    a.Command.Kind(),
		})
	}
	return out
}

// ConfigSummary returns the sanitized view of the current registry.
func (c *Controller) ConfigSummary() ConfigSummary {
	return Summarize(c.handle.Current())
}
