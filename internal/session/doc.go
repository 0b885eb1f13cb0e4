// Package session owns the authenticated connection to each camera.
//
// The Manager keeps at most one live session per device id and is the only
// component that performs network I/O against a device. Sessions are
// reused across commands; a stale one heals itself on next use:
//
//	EnsureSession(dev, force=false)
//	    existing session? ── reload (bounded) ── ok ──▶ reuse, re-apply zoom
//	           │                    │
//	           no                 failed / force
//	           ▼                    ▼
//	    teardown (errors ignored) ──▶ open ──▶ load ──▶ store
//
// Engines decide what a session is. HTTPEngine binds Basic or Digest
// credentials to a per-session http.Client. The browser package supplies a
// DOM-automation engine whose sessions are Chrome tabs.
//
// Release, IsAlive and ShutdownAll never return errors. A failing engine,
// including one that panics, is reduced to "no session" or "not alive".
package session
