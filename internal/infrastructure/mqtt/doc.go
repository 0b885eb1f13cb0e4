// Package mqtt connects MultiCam Core to an MQTT broker.
//
// MQTT is an optional second surface next to the HTTP API. The core
// publishes its events (device status, action results, reloads) and accepts
// action triggers from home-automation systems on the same broker.
//
//	Home automation <-> MQTT broker <-> MultiCam Core <-> cameras
//
// All topics live under the configured prefix (default "multicam"):
//
//	{prefix}/event/{channel}       events, not retained
//	{prefix}/device/{id}/status    per-camera liveness, retained
//	{prefix}/command/run           {"action_id": "...", "target_ids": [...]}
//	{prefix}/command/reload        any payload
//	{prefix}/command/connect       {"force": true|false}
//	{prefix}/system/status         Presence, retained; the will publishes offline
//
// Subscriptions are remembered and replayed after every reconnect. Anyone
// who can publish to {prefix}/command/# can trigger actions, so enable
// broker.tls and broker auth when the broker is not on localhost.
//
//	client, err := mqtt.Connect(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
