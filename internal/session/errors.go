package session

import (
	"errors"
	"fmt"
)

// Domain-specific errors for session operations.
var (
	// ErrConnectFailed matches every ConnectError via errors.Is.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrNoSession is returned when an operation needs a live session and there is none.
	ErrNoSession = errors.New("session: no live session")

	// ErrDeviceRemoved is the cause of a ConnectError for a device that left
	// the registry while its session was being opened.
	ErrDeviceRemoved = errors.New("session: device no longer configured")

	// ErrClickUnsupported is returned by engines that have no DOM to click.
	ErrClickUnsupported = errors.New("session: engine cannot click elements")
)

// Connect stages reported by ConnectError.
const (
	StageOpen     = "open"
	StageLoad     = "load"
	StageRegister = "register"
)

// ConnectError reports a failed session establishment for one device.
// It never escapes the dispatcher; callers turn it into a per-device result.
type ConnectError struct {
	DeviceID string
	Stage    string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.DeviceID, e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnectFailed) true for any ConnectError.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectFailed
}
