package session

import (
	"context"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

// Conn is one engine-level authenticated session to a device.
//
// Credentials are bound when the Conn is opened and never supplied per
// request. A Conn is used by one goroutine at a time; the Manager holds the
// device lock around every call except Probe and the Surface methods.
type Conn interface {
	fleet.Surface

	// Load loads the device's control surface for the first time.
	Load(ctx context.Context) error

	// Reload refreshes the current control surface in place.
	Reload(ctx context.Context) error

	// ApplyZoom sets the presentation zoom. Must be idempotent.
	ApplyZoom(ctx context.Context, zoom float64) error

	// Probe performs a trivial no-op round trip through the session.
	Probe(ctx context.Context) error

	// Close releases the session's resources.
	Close() error
}

// Engine opens sessions. HTTPEngine talks to the control plane directly;
// the browser package provides a DOM-automation engine.
type Engine interface {
	Name() string
	Open(ctx context.Context, dev fleet.Device) (Conn, error)
}
