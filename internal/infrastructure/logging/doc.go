// Package logging is the structured logger shared by every MultiCam Core
// component.
//
// Entries are JSON by default (text when logging.format is "text") and
// always carry service and version. Subsystems log through
// Logger.Component so entries can be filtered by component:
//
//	log := logging.New(cfg.Logging, version)
//	sessLog := log.Component("sessions")
//	sessLog.Warn("probe failed", "camera_id", id, "error", err)
//
// Attributes named password, pass, secret, token or authorization are
// replaced with "[redacted]" before they are written. Prefer logging the
// camera id and base URL; configured URLs never carry userinfo.
package logging
