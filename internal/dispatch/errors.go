package dispatch

import "errors"

// Call-level errors. They reject a RunAction before any device I/O and are
// distinct from per-device failures, which are always reported in Result.
//
//	if errors.Is(err, dispatch.ErrNoTargets) {
//	    // 400 to the caller
//	}
var (
	// ErrUnknownAction is returned when the action id is not in the registry.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrNoTargets is returned when target resolution yields no devices.
	ErrNoTargets = errors.New("dispatch: no targets resolved")
)
