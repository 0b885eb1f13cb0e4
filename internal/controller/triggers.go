package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/multicam-core/internal/infrastructure/mqtt"
)

// ErrInvalidTrigger is returned for an MQTT trigger payload that cannot be
// decoded.
var ErrInvalidTrigger = errors.New("controller: invalid trigger payload")

// Subscriber is the MQTT capability needed for remote triggers.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// triggerSet remembers what SubscribeTriggers registered so Close can undo it.
type triggerSet struct {
	sub    Subscriber
	topics []string
}

// RunRequest is the body of a run trigger, shared with the HTTP API.
type RunRequest struct {
	ActionID  string   `json:"action_id"`
	TargetIDs []string `json:"target_ids,omitempty"`
}

// ConnectRequest is the body of a connect trigger, shared with the HTTP API.
type ConnectRequest struct {
	Force bool `json:"force"`
}

// SubscribeTriggers registers handlers for the run, reload and connect
// command topics. Work triggered over MQTT runs in the background so the
// client's delivery goroutine is never held for a whole dispatch; results
// reach subscribers through the event sink.
//
// Either every topic is subscribed or none is: on failure the topics
// already registered are unsubscribed again. Close unsubscribes them.
func (c *Controller) SubscribeTriggers(sub Subscriber, topics mqtt.Topics, qos byte) error {
	handlers := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.CommandRun(), c.handleRun},
		{topics.CommandReload(), c.handleReload},
		{topics.CommandConnect(), c.handleConnect},
	}

	set := triggerSet{sub: sub}
	for _, h := range handlers {
		if err := sub.Subscribe(h.topic, qos, h.handler); err != nil {
			c.unsubscribe(set)
			return fmt.Errorf("subscribing to %s: %w", h.topic, err)
		}
		set.topics = append(set.topics, h.topic)
		c.logger.Info("mqtt trigger subscribed", "topic", h.topic)
	}

	c.trigMu.Lock()
	prev := c.triggers
	c.triggers = set
	c.trigMu.Unlock()
	c.unsubscribe(prev)
	return nil
}

// UnsubscribeTriggers removes the handlers installed by SubscribeTriggers.
// Later trigger messages are no longer delivered.
func (c *Controller) UnsubscribeTriggers() {
	c.trigMu.Lock()
	set := c.triggers
	c.triggers = triggerSet{}
	c.trigMu.Unlock()
	c.unsubscribe(set)
}

func (c *Controller) unsubscribe(set triggerSet) {
	for _, topic := range set.topics {
		if err := set.sub.Unsubscribe(topic); err != nil {
			c.logger.Warn("mqtt trigger unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Controller) handleRun(topic string, payload []byte) error {
	var req RunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}
	if req.ActionID == "" {
		return fmt.Errorf("%w: missing action_id", ErrInvalidTrigger)
	}

	c.Go(func(ctx context.Context) {
		res, err := c.RunAction(ctx, req.ActionID, req.TargetIDs)
		if err != nil {
			c.logger.Warn("mqtt run trigger rejected", "topic", topic, "action_id", req.ActionID, "error", err)
			return
		}
		c.logger.Info("mqtt run trigger complete",
			"action_id", req.ActionID,
			"dispatch_id", res.ID,
			"ok", res.OK,
		)
	})
	return nil
}

func (c *Controller) handleReload(_ string, _ []byte) error {
	c.Go(func(ctx context.Context) {
		// Failures are already logged and broadcast by Reload.
		_, _ = c.Reload(ctx)
	})
	return nil
}

func (c *Controller) handleConnect(_ string, payload []byte) error {
	var req ConnectRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	}
	c.Go(func(ctx context.Context) {
		c.ConnectAll(ctx, req.Force)
	})
	return nil
}
