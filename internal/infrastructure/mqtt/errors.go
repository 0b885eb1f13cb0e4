package mqtt

import "errors"

// Errors returned by Client. Failures from paho are wrapped in the
// operation's sentinel, so callers test with errors.Is.
var (
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidTopic    = errors.New("mqtt: topic is empty")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
