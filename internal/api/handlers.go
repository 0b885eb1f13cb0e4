package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/multicam-core/internal/controller"
	"github.com/nerrad567/multicam-core/internal/dispatch"
)

// runActionRequest is the body of POST /run_action. button_id is accepted
// as an alias for action_id.
type runActionRequest struct {
	ActionID  string   `json:"action_id"`
	ButtonID  string   `json:"button_id"`
	TargetIDs []string `json:"target_ids"`
}

// handleConfig returns the sanitized device and button lists.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.ConfigSummary())
}

// handleStatus returns per-camera liveness and the "N/M online" summary.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

// handleRunAction dispatches an action to its targets and returns every
// device's outcome. Unknown actions and empty target sets are rejected
// with 400 before any camera is contacted.
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	var req runActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	actionID := req.ActionID
	if actionID == "" {
		actionID = req.ButtonID
	}
	if actionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeUnknownAction, "action_id is required")
		return
	}

	res, err := s.core.RunAction(r.Context(), actionID, req.TargetIDs)
	switch {
	case errors.Is(err, dispatch.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownAction, err.Error())
		return
	case errors.Is(err, dispatch.ErrNoTargets):
		writeError(w, http.StatusBadRequest, ErrCodeNoTargets, err.Error())
		return
	case err != nil:
		s.logger.Error("run_action failed", "action_id", actionID, "error", err)
		writeInternalError(w, "dispatch failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleReloadConfig re-reads the config file. A fatal config error is
// reported with 500 and the registry is left empty.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	res, err := s.core.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// connectResponse is the body returned by POST /sessions/connect.
type connectResponse struct {
	OK      bool                       `json:"ok"`
	Summary string                     `json:"summary"`
	Results []controller.ConnectResult `json:"results"`
}

// handleConnect (re)connects every camera in registry order. With
// {"force": true} all sessions are recreated from scratch.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req controller.ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	results := s.core.ConnectAll(r.Context(), req.Force)
	online := 0
	for _, res := range results {
		if res.OK {
			online++
		}
	}
	writeJSON(w, http.StatusOK, connectResponse{
		OK:      online == len(results),
		Summary: controller.SummaryText(online, len(results)),
		Results: results,
	})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
