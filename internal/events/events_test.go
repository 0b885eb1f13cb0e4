package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/multicam-core/internal/infrastructure/mqtt"
)

type recordingSink struct {
	mu       sync.Mutex
	channels []string
}

func (r *recordingSink) Broadcast(channel string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
}

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.msgs = append(p.msgs, published{topic, payload, qos, retained})
	return p.err
}

func (p *fakePublisher) topics() []string {
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.topic
	}
	return out
}

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, nil, b}

	f.Broadcast(ChannelDeviceStatus, DeviceStatus{DeviceID: "x"})

	if len(a.channels) != 1 || len(b.channels) != 1 {
		t.Errorf("deliveries = %d, %d; want 1, 1", len(a.channels), len(b.channels))
	}
}

func TestMQTTSink_Broadcast(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, mqtt.Topics{Prefix: "multicam"}, 1, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	s.Broadcast(ChannelActionCompleted, ActionCompleted{DispatchID: "d1", ActionID: "rec", OK: true, Succeeded: 2, Total: 2})

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.topic != "multicam/event/action.completed" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 || msg.retained {
		t.Errorf("qos = %d retained = %v, want 1 false", msg.qos, msg.retained)
	}

	var env struct {
		Channel   string          `json:"channel"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   ActionCompleted `json:"payload"`
	}
	if err := json.Unmarshal(msg.payload, &env); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if env.Channel != ChannelActionCompleted || env.Payload.DispatchID != "d1" || env.Payload.Total != 2 {
		t.Errorf("envelope = %+v", env)
	}
}

func TestMQTTSink_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	s := NewMQTTSink(pub, mqtt.Topics{Prefix: "multicam"}, 0, nil)

	s.Broadcast(ChannelDeviceStatus, DeviceStatus{DeviceID: "a"})

	if len(pub.msgs) != 2 {
		t.Errorf("topics = %v, want event and device status", pub.topics())
	}
}

func TestMQTTSink_DeviceStatusRetained(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, mqtt.Topics{Prefix: "site"}, 1, nil)

	s.Broadcast(ChannelDeviceStatus, DeviceStatus{DeviceID: "cam-1", Online: true, Source: SourceProbe})

	if len(pub.msgs) != 2 {
		t.Fatalf("topics = %v", pub.topics())
	}
	status := pub.msgs[1]
	if status.topic != "site/device/cam-1/status" || !status.retained {
		t.Errorf("status message = %q retained=%v", status.topic, status.retained)
	}
	var st DeviceStatus
	if err := json.Unmarshal(status.payload, &st); err != nil || !st.Online {
		t.Errorf("status payload = %s (%v)", status.payload, err)
	}
}

func TestMQTTSink_UnmarshalablePayload(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, mqtt.Topics{Prefix: "multicam"}, 0, nil)

	s.Broadcast("bad", make(chan int))

	if len(pub.msgs) != 0 {
		t.Error("unmarshalable payload should not be published")
	}
}
