package mqtt

import "fmt"

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it.
// Retained is meant for state topics (presence, per-camera status), never
// for events or commands.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.paho.Publish(topic, qos, retained, payload), opTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe routes messages matching topic (wildcards allowed) to h. The
// route survives reconnects until Unsubscribe. Subscribing the same topic
// again replaces its handler.
func (c *Client) Subscribe(topic string, qos byte, h MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	prev, had := c.routes[topic]
	c.routes[topic] = route{qos: qos, handler: h}
	c.mu.Unlock()

	if err := await(c.paho.Subscribe(topic, qos, c.dispatch(h)), opTimeout); err != nil {
		c.mu.Lock()
		if had {
			c.routes[topic] = prev
		} else {
			delete(c.routes, topic)
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe drops the route for topic and tells the broker. The route is
// forgotten even if the broker call fails, so it is not replayed on the
// next reconnect.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := await(c.paho.Unsubscribe(topic), opTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}
