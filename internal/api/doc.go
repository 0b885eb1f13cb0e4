// Package api implements the HTTP REST API and WebSocket server for MultiCam Core.
//
// This package provides:
//   - Read endpoints for the sanitized config, camera status and health
//   - Command endpoints: run an action, reload the config, reconnect cameras
//   - WebSocket hub relaying core events (device.status, action.result,
//     action.completed, config.reloaded)
//   - Optional JWT bearer auth on command endpoints
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Prometheus exposition on /metrics
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/config
//	GET  /api/v1/status
//	GET  /api/v1/ws[?channels=a,b]
//	POST /api/v1/run_action        {"action_id": "...", "target_ids": [...]}
//	POST /api/v1/reload_config
//	POST /api/v1/sessions/connect  {"force": false}
//	GET  /metrics
//
// # Security
//
// When security.jwt.secret is set, POST routes require an
// "Authorization: Bearer <token>" header carrying an HS256 token signed with
// that secret (see IssueToken). Read routes stay open so wall displays can
// poll status without credentials.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
