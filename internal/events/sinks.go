package events

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/multicam-core/internal/infrastructure/mqtt"
)

// Logger is the logging interface used by the sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Publisher is the MQTT capability the MQTT sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Envelope is the JSON body of an event published over MQTT.
type Envelope struct {
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// MQTTSink publishes events to {prefix}/event/{channel}. Device status
// events are additionally published, retained, to the per-camera status
// topic so late subscribers see the latest state.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger
	now    func() time.Time
}

// NewMQTTSink creates a sink publishing under topics with the given QoS.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{pub: pub, topics: topics, qos: qos, logger: logger, now: time.Now}
}

// Broadcast implements Sink. Publish failures are logged and dropped.
func (s *MQTTSink) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Envelope{Channel: channel, Timestamp: s.now().UTC(), Payload: payload})
	if err != nil {
		s.logger.Warn("marshalling event failed", "channel", channel, "error", err)
		return
	}
	s.publish(s.topics.Event(channel), data, false)

	if st, ok := payload.(DeviceStatus); ok {
		body, err := json.Marshal(st)
		if err != nil {
			return
		}
		s.publish(s.topics.DeviceStatus(st.DeviceID), body, true)
	}
}

func (s *MQTTSink) publish(topic string, data []byte, retained bool) {
	if err := s.pub.Publish(topic, data, s.qos, retained); err != nil {
		s.logger.Debug("publishing event failed", "topic", topic, "error", err)
	}
}

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a sink that logs events.
func NewLogSink(logger Logger) *LogSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSink{logger: logger}
}

// Broadcast implements Sink.
func (s *LogSink) Broadcast(channel string, payload any) {
	s.logger.Debug("event", "channel", channel, "payload", payload)
}
